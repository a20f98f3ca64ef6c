package models

// Query models for the ops API. Defaults and validation come from struct tags.

type MarketQuery struct {
	Market string `query:"market" json:"market" validate:"required"`
}

type TradesQuery struct {
	Market string `query:"market" json:"market"`
	Limit  int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=1000"`
}
