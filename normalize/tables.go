package normalize

import "github.com/opengovsl/landetl/types"

// canonicalDistricts maps lowercased, space-collapsed variants to the
// canonical district name. Unknown districts pass through trimmed.
var canonicalDistricts = map[string]string{
	"western area":       "Western Area Urban",
	"western area urban": "Western Area Urban",
	"western urban":      "Western Area Urban",
	"freetown":           "Western Area Urban",
	"western area rural": "Western Area Rural",
	"western rural":      "Western Area Rural",
	"portloko":           "Port Loko",
	"port loko":          "Port Loko",
	"bo":                 "Bo",
	"bo district":        "Bo",
	"bombali":            "Bombali",
	"bonthe":             "Bonthe",
	"falaba":             "Falaba",
	"kailahun":           "Kailahun",
	"kambia":             "Kambia",
	"karene":             "Karene",
	"kenema":             "Kenema",
	"koinadugu":          "Koinadugu",
	"kono":               "Kono",
	"moyamba":            "Moyamba",
	"pujehun":            "Pujehun",
	"tonkolili":          "Tonkolili",
}

// landTypeSynonyms maps lowercased source classifications onto the
// enumerated set. Anything unmapped normalizes to mixed.
var landTypeSynonyms = map[string]types.LandType{
	"residential": types.LandTypeResidential,
	"home":        types.LandTypeResidential,
	"house":       types.LandTypeResidential,
	"dwelling":    types.LandTypeResidential,

	"commercial":  types.LandTypeCommercial,
	"business":    types.LandTypeCommercial,
	"shop":        types.LandTypeCommercial,
	"office":      types.LandTypeCommercial,

	"agricultural": types.LandTypeAgricultural,
	"agriculture":  types.LandTypeAgricultural,
	"farming":      types.LandTypeAgricultural,
	"farm":         types.LandTypeAgricultural,
	"farmland":     types.LandTypeAgricultural,

	"industrial": types.LandTypeIndustrial,
	"factory":    types.LandTypeIndustrial,
	"warehouse":  types.LandTypeIndustrial,

	"mixed":     types.LandTypeMixed,
	"mixed use": types.LandTypeMixed,
	"mixed-use": types.LandTypeMixed,
}

// taxStatusSynonyms maps source tax standings onto the enumerated set.
var taxStatusSynonyms = map[string]types.TaxStatus{
	"compliant":  types.TaxCompliant,
	"paid":       types.TaxCompliant,
	"up to date": types.TaxCompliant,
	"arrears":    types.TaxArrears,
	"in arrears": types.TaxArrears,
	"overdue":    types.TaxArrears,
	"exempt":     types.TaxExempt,
	"exempted":   types.TaxExempt,
	"pending":    types.TaxPending,
}
