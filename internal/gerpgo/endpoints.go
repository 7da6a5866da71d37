package gerpgo

import "sort"

// maxPageSize is the provider cap on the count parameter.
const maxPageSize = 100

// Endpoint describes one Gerpgo data resource. All data endpoints are
// POST with a JSON body carrying count, an optional nextId cursor, and
// resource-specific filters; MarketParam records the provider's
// singular/plural inconsistency for the market filter.
type Endpoint struct {
	// Name is the logical resource name used in job params and metrics.
	Name string
	// Path is appended to the configured base URL.
	Path string
	// MarketParam is the request field for the market filter
	// ("marketIds" expects a list, "marketId" a scalar, "" means the
	// resource takes no market filter).
	MarketParam string
	// DateFiltered marks resources accepting startDataDate/endDataDate.
	DateFiltered bool
}

var endpoints = map[string]Endpoint{
	"products":             {Name: "products", Path: "/operation/sale/selling/page"},
	"fba_inventory_age":    {Name: "fba_inventory_age", Path: "/fulfillment/inventory/inventoryAge/page"},
	"fba_inventory":        {Name: "fba_inventory", Path: "/purchase/store/fbaInventory/page/V2"},
	"marketplaces":         {Name: "marketplaces", Path: "/middle/base/market/page"},
	"sp_ads":               {Name: "sp_ads", Path: "/operation/ads/adsSpProduct/query", MarketParam: "marketIds", DateFiltered: true},
	"sp_keywords":          {Name: "sp_keywords", Path: "/operation/ads/spKeywordsPage/query", MarketParam: "marketIds", DateFiltered: true},
	"sp_placements":        {Name: "sp_placements", Path: "/operation/ads/adsSpPlacement/page", MarketParam: "marketId", DateFiltered: true},
	"sp_targets":           {Name: "sp_targets", Path: "/operation/ads/spSearchTargetingReport/page", MarketParam: "marketIds", DateFiltered: true},
	"sp_search_terms":      {Name: "sp_search_terms", Path: "/operation/ads/spSearchKeywordsReport/page", MarketParam: "marketId", DateFiltered: true},
	"sb_keywords":          {Name: "sb_keywords", Path: "/operation/ads/sbKeywordsPage/query", MarketParam: "marketId", DateFiltered: true},
	"sb_campaigns":         {Name: "sb_campaigns", Path: "/operation/ads/adsSbCampaign/query", MarketParam: "marketId", DateFiltered: true},
	"sb_creatives":         {Name: "sb_creatives", Path: "/operation/ads/adsSbCreative/page", MarketParam: "marketId", DateFiltered: true},
	"sb_targets":           {Name: "sb_targets", Path: "/operation/ads/adsSbTargeting/query", MarketParam: "marketId", DateFiltered: true},
	"sb_placements":        {Name: "sb_placements", Path: "/operation/ads/sbPlacementPage/query", MarketParam: "marketId", DateFiltered: true},
	"sb_search_terms":      {Name: "sb_search_terms", Path: "/operation/ads/sbSearchKeywordsReport/page", MarketParam: "marketId", DateFiltered: true},
	"sd_campaigns":         {Name: "sd_campaigns", Path: "/operation/ads/adsSdCampaigns/query", MarketParam: "marketId", DateFiltered: true},
	"sd_products":          {Name: "sd_products", Path: "/operation/ads/adsSdProduct/query", MarketParam: "marketId", DateFiltered: true},
	"storage_ledger":       {Name: "storage_ledger", Path: "/fulfillment/inventory/storageLedger/page", DateFiltered: true},
	"storage_ledger_lines": {Name: "storage_ledger_lines", Path: "/purchase/inventory/storageLedgerDetail/page", DateFiltered: true},
	"storage_fees":         {Name: "storage_fees", Path: "/finance/asset/storageFee/page", DateFiltered: true},
}

// Lookup resolves a logical resource name to its endpoint descriptor.
func Lookup(name string) (Endpoint, bool) {
	ep, ok := endpoints[name]
	return ep, ok
}

// Resources returns all known resource names, sorted for stable job
// registration and listings.
func Resources() []string {
	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
