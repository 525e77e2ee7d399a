package catalog

import (
	"sync"

	"clearline/internal/domain"
)

// DefaultVersion identifies the built-in SOP catalog revision.
const DefaultVersion = "sop-2025.1"

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
)

// Default returns the built-in 34-step clearance catalog. The content is
// fixed at compile time, so a malformed catalog is a programming error and
// panics rather than surfacing per request.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := New(DefaultVersion, defaultSteps)
		if err != nil {
			panic(err)
		}
		defaultCat = c
	})
	return defaultCat
}

func fptr(v float64) *float64 { return &v }

var defaultSteps = []StepDefinition{
	// Pre-clearance (Business Unit)
	{
		StepNumber: "1.0", Sequence: 1, Name: "Receive shipping documents",
		Description: "Receive and verify shipping documents from supplier",
		Department:  domain.DeptBusinessUnit, EtaOffsetDays: -5,
		RequiredFields: []FieldSpec{
			{Name: "document_reference", Type: FieldString, Required: true},
		},
	},
	{
		StepNumber: "2.0", Sequence: 2, Name: "Verify invoice and packing list",
		Description: "Verify invoice details and packing list accuracy",
		Department:  domain.DeptBusinessUnit, EtaOffsetDays: -4,
		Dependencies: []string{"1.0"},
	},
	// LC chain (Finance)
	{
		StepNumber: "3.0", Sequence: 3, Name: "Prepare LC documentation",
		Description: "Prepare Letter of Credit documentation",
		Department:  domain.DeptFinance, EtaOffsetDays: -3,
		Dependencies: []string{"2.0"},
		RequiredFields: []FieldSpec{
			{Name: "lc_number", Type: FieldString, Required: true, Pattern: `^LC-[A-Z0-9-]+$`},
		},
	},
	{
		StepNumber: "4.0", Sequence: 4, Name: "LC opening",
		Description: "Open Letter of Credit with bank",
		Department:  domain.DeptFinance, EtaOffsetDays: -2,
		Dependencies: []string{"3.0"},
		RequiredFields: []FieldSpec{
			{Name: "bank_reference", Type: FieldString, Required: true},
		},
	},
	{
		StepNumber: "5.0", Sequence: 5, Name: "DAN preparation",
		Description: "Prepare Document Against Negotiation",
		Department:  domain.DeptFinance, EtaOffsetDays: -1,
		Dependencies: []string{"4.0"},
	},
	{
		StepNumber: "6.0", Sequence: 6, Name: "DAN signing",
		Description: "Sign Document Against Negotiation",
		Department:  domain.DeptFinance, EtaOffsetDays: 0,
		Dependencies: []string{"5.0"},
	},
	{
		StepNumber: "7.0", Sequence: 7, Name: "Fund transfer initiation",
		Description: "Initiate fund transfer for customs duties",
		Department:  domain.DeptFinance, EtaOffsetDays: 1,
		Dependencies: []string{"6.0"},
	},
	{
		StepNumber: "8.0", Sequence: 8, Name: "Bank document collection",
		Description: "Collect documents from bank",
		Department:  domain.DeptFinance, EtaOffsetDays: 2,
		Dependencies: []string{"7.0"},
	},
	// Critical clearance chain (Customs & Clearance)
	{
		StepNumber: "9.0", Sequence: 9, Name: "Bayan submission",
		Description: "Submit customs declaration (Bayan) to customs authority",
		Department:  domain.DeptCustomsClearance, EtaOffsetDays: 0, IsCritical: true,
		Dependencies: []string{"2.0"},
		RequiredFields: []FieldSpec{
			{Name: "bayan_number", Type: FieldString, Required: true, Pattern: `^[0-9]{4,}$`},
		},
	},
	{
		StepNumber: "10.0", Sequence: 10, Name: "Customs duty payment",
		Description: "Pay customs duty to customs authority",
		Department:  domain.DeptCustomsClearance, EtaOffsetDays: 3, IsCritical: true,
		Dependencies: []string{"9.0"},
		RequiredFields: []FieldSpec{
			{Name: "duty_amount_omr", Type: FieldNumber, Required: true, Min: fptr(0)},
		},
	},
	{
		StepNumber: "11.0", Sequence: 11, Name: "Bayan approval",
		Description: "Receive Bayan approval from customs authority",
		Department:  domain.DeptCustomsClearance, EtaOffsetDays: 4, IsCritical: true,
		Dependencies: []string{"10.0"},
	},
	{
		StepNumber: "12.0", Sequence: 12, Name: "VAT payment",
		Description: "Pay Value Added Tax",
		Department:  domain.DeptFinance, EtaOffsetDays: 4,
		Dependencies: []string{"11.0"},
		RequiredFields: []FieldSpec{
			{Name: "vat_amount_omr", Type: FieldNumber, Required: true, Min: fptr(0)},
		},
	},
	{
		StepNumber: "13.0", Sequence: 13, Name: "DO payment",
		Description: "Pay for Delivery Order",
		Department:  domain.DeptCustomsClearance, EtaOffsetDays: 6, IsCritical: true,
		Dependencies: []string{"11.0"},
		RequiredFields: []FieldSpec{
			{Name: "do_number", Type: FieldString, Required: true},
		},
	},
	{
		StepNumber: "14.0", Sequence: 14, Name: "Goods collection from port",
		Description: "Collect goods from port",
		Department:  domain.DeptCustomsClearance, EtaOffsetDays: 7, IsCritical: true,
		Dependencies: []string{"13.0"},
		RequiredFields: []FieldSpec{
			{Name: "gate_pass_number", Type: FieldString, Required: true},
			{Name: "collection_date", Type: FieldDate, Required: false},
		},
	},
	// Post-clearance (Business Unit Stores)
	{
		StepNumber: "15.0", Sequence: 15, Name: "Transport to warehouse",
		Description: "Transport goods to warehouse",
		Department:  domain.DeptBusinessUnitStores, EtaOffsetDays: 8,
		Dependencies: []string{"14.0"},
	},
	{
		StepNumber: "16.0", Sequence: 16, Name: "Warehouse receipt",
		Description: "Receive goods at warehouse",
		Department:  domain.DeptBusinessUnitStores, EtaOffsetDays: 8,
		Dependencies: []string{"15.0"},
		RequiredFields: []FieldSpec{
			{Name: "grn_number", Type: FieldString, Required: true},
		},
	},
	{
		StepNumber: "17.0", Sequence: 17, Name: "Physical inspection",
		Description: "Conduct physical inspection of goods",
		Department:  domain.DeptBusinessUnitStores, EtaOffsetDays: 9,
		Dependencies: []string{"16.0"},
	},
	{
		StepNumber: "18.0", Sequence: 18, Name: "Quality check",
		Description: "Perform quality check on goods",
		Department:  domain.DeptBusinessUnitStores, EtaOffsetDays: 9,
		Dependencies: []string{"17.0"},
	},
	{
		StepNumber: "19.0", Sequence: 19, Name: "Defect reporting",
		Description: "Report any defects found during inspection",
		Department:  domain.DeptBusinessUnitStores, EtaOffsetDays: 10, IsOptional: true,
		Dependencies: []string{"18.0"},
	},
	{
		StepNumber: "20.0", Sequence: 20, Name: "Inventory update",
		Description: "Update inventory system with received goods",
		Department:  domain.DeptBusinessUnitStores, EtaOffsetDays: 10,
		Dependencies: []string{"18.0"},
	},
	// Administrative wrap-up
	{
		StepNumber: "21.0", Sequence: 21, Name: "Insurance claim preparation",
		Description: "Prepare insurance claim if needed",
		Department:  domain.DeptFinance, EtaOffsetDays: 11, IsOptional: true,
	},
	{
		StepNumber: "22.0", Sequence: 22, Name: "Insurance documentation",
		Description: "Complete insurance documentation",
		Department:  domain.DeptFinance, EtaOffsetDays: 12, IsOptional: true,
		Dependencies: []string{"21.0"},
	},
	{
		StepNumber: "23.0", Sequence: 23, Name: "Supplier invoice reconciliation",
		Description: "Reconcile supplier invoice with received goods",
		Department:  domain.DeptFinance, EtaOffsetDays: 13,
		Dependencies: []string{"20.0"},
	},
	{
		StepNumber: "24.0", Sequence: 24, Name: "Payment processing",
		Description: "Process payment to supplier",
		Department:  domain.DeptFinance, EtaOffsetDays: 14,
		Dependencies: []string{"23.0"},
		RequiredFields: []FieldSpec{
			{Name: "payment_reference", Type: FieldString, Required: true},
			{Name: "payment_amount_omr", Type: FieldNumber, Required: true, Min: fptr(0)},
		},
	},
	{
		StepNumber: "25.0", Sequence: 25, Name: "Document archival",
		Description: "Archive all shipment documents",
		Department:  domain.DeptBusinessUnit, EtaOffsetDays: 15,
		Dependencies: []string{"8.0"},
	},
	{
		StepNumber: "26.0", Sequence: 26, Name: "Compliance reporting",
		Description: "Submit compliance reports to authorities",
		Department:  domain.DeptCustomsClearance, EtaOffsetDays: 16,
		Dependencies: []string{"14.0"},
	},
	{
		StepNumber: "27.0", Sequence: 27, Name: "Cost allocation",
		Description: "Allocate costs to appropriate cost centers",
		Department:  domain.DeptFinance, EtaOffsetDays: 17,
		Dependencies: []string{"24.0"},
	},
	{
		StepNumber: "28.0", Sequence: 28, Name: "Vendor performance review",
		Description: "Review vendor performance for this shipment",
		Department:  domain.DeptBusinessUnit, EtaOffsetDays: 18,
		Dependencies: []string{"20.0"},
	},
	{
		StepNumber: "29.0", Sequence: 29, Name: "Customs audit preparation",
		Description: "Prepare documents for potential customs audit",
		Department:  domain.DeptCustomsClearance, EtaOffsetDays: 19,
		Dependencies: []string{"26.0"},
	},
	{
		StepNumber: "30.0", Sequence: 30, Name: "Final reconciliation",
		Description: "Final reconciliation of all costs and documents",
		Department:  domain.DeptFinance, EtaOffsetDays: 20,
		Dependencies: []string{"27.0"},
	},
	{
		StepNumber: "31.0", Sequence: 31, Name: "Management reporting",
		Description: "Prepare management report on shipment",
		Department:  domain.DeptBusinessUnit, EtaOffsetDays: 21,
		Dependencies: []string{"30.0"},
	},
	{
		StepNumber: "32.0", Sequence: 32, Name: "Lessons learned documentation",
		Description: "Document lessons learned from shipment process",
		Department:  domain.DeptBusinessUnit, EtaOffsetDays: 22, IsOptional: true,
	},
	{
		StepNumber: "33.0", Sequence: 33, Name: "Process improvement suggestions",
		Description: "Submit process improvement suggestions",
		Department:  domain.DeptBusinessUnit, EtaOffsetDays: 23, IsOptional: true,
	},
	{
		StepNumber: "34.0", Sequence: 34, Name: "Shipment closure",
		Description: "Close shipment in system",
		Department:  domain.DeptBusinessUnit, EtaOffsetDays: 24,
		Dependencies: []string{"25.0", "30.0", "31.0"},
	},
}
