package ingestion

import "encoding/json"

// Typed shapes for the GraphQL nodes the sync queries return. Money arrives
// as decimal strings inside shopMoney bags; ids arrive as GIDs.

type moneyBag struct {
	ShopMoney struct {
		Amount string `json:"amount"`
	} `json:"shopMoney"`
}

type productNode struct {
	Id          string   `json:"id"`
	Title       string   `json:"title"`
	Vendor      string   `json:"vendor"`
	ProductType string   `json:"productType"`
	Tags        []string `json:"tags"`
	Variants    struct {
		Edges []struct {
			Node variantNode `json:"node"`
		} `json:"edges"`
	} `json:"variants"`
}

type variantNode struct {
	Id                string  `json:"id"`
	Title             string  `json:"title"`
	Sku               string  `json:"sku"`
	Price             string  `json:"price"`
	CompareAtPrice    *string `json:"compareAtPrice"`
	InventoryQuantity int     `json:"inventoryQuantity"`
	InventoryItem     struct {
		Id string `json:"id"`
	} `json:"inventoryItem"`
}

type orderNode struct {
	Id                       string  `json:"id"`
	Name                     string  `json:"name"`
	Email                    string  `json:"email"`
	CreatedAt                string  `json:"createdAt"`
	ProcessedAt              *string `json:"processedAt"`
	CancelledAt              *string `json:"cancelledAt"`
	DisplayFinancialStatus   string  `json:"displayFinancialStatus"`
	DisplayFulfillmentStatus string  `json:"displayFulfillmentStatus"`
	Customer                 *struct {
		Id string `json:"id"`
	} `json:"customer"`
	SubtotalPriceSet  moneyBag `json:"subtotalPriceSet"`
	TotalPriceSet     moneyBag `json:"totalPriceSet"`
	TotalTaxSet       moneyBag `json:"totalTaxSet"`
	TotalDiscountsSet moneyBag `json:"totalDiscountsSet"`
	LineItems         struct {
		Edges []struct {
			Node lineItemNode `json:"node"`
		} `json:"edges"`
	} `json:"lineItems"`
	Refunds []refundNode `json:"refunds"`
}

type lineItemNode struct {
	Title                string   `json:"title"`
	Quantity             int      `json:"quantity"`
	OriginalUnitPriceSet moneyBag `json:"originalUnitPriceSet"`
	TotalDiscountSet     moneyBag `json:"totalDiscountSet"`
	Variant              *struct {
		Id  string `json:"id"`
		Sku string `json:"sku"`
	} `json:"variant"`
	Product *struct {
		Id string `json:"id"`
	} `json:"product"`
}

type refundNode struct {
	Id               string   `json:"id"`
	CreatedAt        string   `json:"createdAt"`
	TotalRefundedSet moneyBag `json:"totalRefundedSet"`
}

type customerNode struct {
	Id             string      `json:"id"`
	Email          string      `json:"email"`
	FirstName      string      `json:"firstName"`
	LastName       string      `json:"lastName"`
	Tags           []string    `json:"tags"`
	NumberOfOrders json.Number `json:"numberOfOrders"`
	AmountSpent    struct {
		Amount string `json:"amount"`
	} `json:"amountSpent"`
}
