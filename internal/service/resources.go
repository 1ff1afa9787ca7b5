package service

import (
	"sort"

	"kasiran/admin/internal/listing"
	"kasiran/admin/internal/report"
)

// ResourceDef describes one master-data page: where it lives upstream, what
// the table shows and which form fields must be filled.
type ResourceDef struct {
	Name       string            `json:"name"`
	Title      string            `json:"title"`
	Path       string            `json:"-"`
	Columns    []report.Column   `json:"-"`
	Rules      listing.FormRules `json:"-"`
	PhotoField string            `json:"photo_field,omitempty"`
	Importable bool              `json:"importable"`
	Exportable bool              `json:"exportable"`
}

var resources = map[string]ResourceDef{
	"products": {
		Name:  "products",
		Title: "Produk",
		Path:  "products",
		Columns: []report.Column{
			{Field: "sku", Label: "SKU"},
			{Field: "name", Label: "Nama"},
			{Field: "category", Label: "Kategori"},
			{Field: "brand", Label: "Merek"},
			{Field: "unit", Label: "Satuan"},
			{Field: "cost_price", Label: "Harga modal", Money: true},
			{Field: "selling_price", Label: "Harga jual", Money: true},
		},
		Rules: listing.FormRules{
			Create: []string{"name", "category_id", "unit_id", "selling_price"},
			Edit:   []string{"name", "category_id", "unit_id", "selling_price"},
		},
		PhotoField: "photo",
		Importable: true,
		Exportable: true,
	},
	"categories": {
		Name:       "categories",
		Title:      "Kategori",
		Path:       "categories",
		Columns:    []report.Column{{Field: "name", Label: "Nama"}, {Field: "description", Label: "Keterangan"}},
		Rules:      listing.FormRules{Create: []string{"name"}, Edit: []string{"name"}},
		PhotoField: "photo",
		Importable: true,
		Exportable: true,
	},
	"brands": {
		Name:       "brands",
		Title:      "Merek",
		Path:       "brands",
		Columns:    []report.Column{{Field: "name", Label: "Nama"}, {Field: "description", Label: "Keterangan"}},
		Rules:      listing.FormRules{Create: []string{"name"}, Edit: []string{"name"}},
		PhotoField: "photo",
		Exportable: true,
	},
	"units": {
		Name:       "units",
		Title:      "Satuan",
		Path:       "units",
		Columns:    []report.Column{{Field: "name", Label: "Nama"}, {Field: "short_name", Label: "Singkatan"}},
		Rules:      listing.FormRules{Create: []string{"name", "short_name"}, Edit: []string{"name", "short_name"}},
		Exportable: true,
	},
	"customers": {
		Name:  "customers",
		Title: "Pelanggan",
		Path:  "customers",
		Columns: []report.Column{
			{Field: "name", Label: "Nama"},
			{Field: "phone_number", Label: "No HP"},
			{Field: "email", Label: "Email"},
			{Field: "address", Label: "Alamat"},
		},
		Rules:      listing.FormRules{Create: []string{"name", "phone_number"}, Edit: []string{"name", "phone_number"}},
		Importable: true,
		Exportable: true,
	},
	"suppliers": {
		Name:  "suppliers",
		Title: "Pemasok",
		Path:  "suppliers",
		Columns: []report.Column{
			{Field: "name", Label: "Nama"},
			{Field: "contact_person", Label: "Kontak"},
			{Field: "phone_number", Label: "No HP"},
			{Field: "address", Label: "Alamat"},
		},
		Rules:      listing.FormRules{Create: []string{"name", "phone_number"}, Edit: []string{"name", "phone_number"}},
		Importable: true,
		Exportable: true,
	},
	"cost-modules": {
		Name:  "cost-modules",
		Title: "Modal",
		Path:  "cost-modules",
		Columns: []report.Column{
			{Field: "date", Label: "Tanggal"},
			{Field: "description", Label: "Keterangan"},
			{Field: "amount", Label: "Jumlah", Money: true},
		},
		Rules:      listing.FormRules{Create: []string{"date", "amount"}, Edit: []string{"date", "amount"}},
		Exportable: true,
	},
	"outlets": {
		Name:  "outlets",
		Title: "Outlet",
		Path:  "outlets",
		Columns: []report.Column{
			{Field: "name", Label: "Nama"},
			{Field: "phone_number", Label: "No HP"},
			{Field: "address", Label: "Alamat"},
		},
		Rules:      listing.FormRules{Create: []string{"name", "address"}, Edit: []string{"name", "address"}},
		PhotoField: "photo",
	},
	"staff": {
		Name:  "staff",
		Title: "Staf",
		Path:  "staff",
		Columns: []report.Column{
			{Field: "name", Label: "Nama"},
			{Field: "email", Label: "Email"},
			{Field: "role", Label: "Jabatan"},
			{Field: "outlet", Label: "Outlet"},
		},
		// A password is only needed when the account is first created.
		Rules: listing.FormRules{
			Create: []string{"name", "email", "password", "role", "outlet_id"},
			Edit:   []string{"name", "email", "role", "outlet_id"},
		},
		PhotoField: "photo",
	},
}

func LookupResource(name string) (ResourceDef, bool) {
	def, ok := resources[name]
	return def, ok
}

func Resources() []ResourceDef {
	out := make([]ResourceDef, 0, len(resources))
	for _, def := range resources {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

const (
	WidgetDashboard = "dashboard"
	WidgetAudit     = "audit"
	WidgetStaff     = "staff"
)

func knownWidget(name string) bool {
	switch name {
	case WidgetDashboard, WidgetAudit, WidgetStaff:
		return true
	}
	return false
}
