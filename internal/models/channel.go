package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ChannelType represents the downstream sales channels that receive quantities
type ChannelType string

const (
	ChannelShopify     ChannelType = "SHOPIFY"
	ChannelAmazon      ChannelType = "AMAZON"
	ChannelShipStation ChannelType = "SHIPSTATION"
)

// AllChannels lists every supported channel in dispatch order
var AllChannels = []ChannelType{ChannelShopify, ChannelAmazon, ChannelShipStation}

// IsValid returns true if the channel type is supported
func (c ChannelType) IsValid() bool {
	switch c {
	case ChannelShopify, ChannelAmazon, ChannelShipStation:
		return true
	default:
		return false
	}
}

// JSONB custom type for PostgreSQL JSONB
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	return scanJSON(value, j)
}

// scanJSON decodes a JSON column value into dest. Postgres returns []byte,
// sqlite may hand back a string.
func scanJSON(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
}
