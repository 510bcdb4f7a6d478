package ercomsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/ozerpan/ercom-sync/internal/ercom"
	"github.com/ozerpan/ercom-sync/internal/erp"
)

const defaultCity = "Bilinmiyor"

// SyncCustomers creates a Customer with its billing Address and primary
// Contact for every dbcari row whose name is not in the ERP.
func (s *Syncer) SyncCustomers(ctx context.Context) (Stats, error) {
	st := Stats{Entity: "customer"}
	rows, err := s.opts.Source.Customers(ctx)
	if err != nil {
		return st, err
	}
	rows = lo.Filter(rows, func(r ercom.Customer, _ int) bool { return strings.TrimSpace(r.Name) != "" })
	rows = lo.UniqBy(rows, func(r ercom.Customer) string { return r.Name })
	st.Total = len(rows)
	if len(rows) == 0 {
		s.logger.Warn().Msg("no customer data found")
		return st, nil
	}

	names := lo.Map(rows, func(r ercom.Customer, _ int) string { return r.Name })
	present, err := s.existing(ctx, "Customer", "customer_name", names)
	if err != nil {
		return st, err
	}
	country := s.country(ctx)

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		s.progress(ctx, "ERCOM Customer Sync", i+1, len(rows))
		if present[row.Name] {
			st.count("skipped")
			continue
		}
		if err := s.createCustomer(ctx, row, country); err != nil {
			s.logger.Error().Err(err).Str("customer", row.Name).Msg("customer_sync_failed")
			st.count("failed")
			continue
		}
		s.remember("Customer", row.Name)
		st.count("created")
	}
	return st, nil
}

// country prefers "Turkey" and falls back to the localised record name.
func (s *Syncer) country(ctx context.Context) string {
	if name, err := s.opts.ERP.Exists(ctx, "Country", erp.Filters{"name": "Turkey"}); err == nil && name != "" {
		return name
	}
	return "Türkiye"
}

// createCustomer inserts the Customer with its Address and Contact. If any
// step fails the documents already created are deleted again.
func (s *Syncer) createCustomer(ctx context.Context, row ercom.Customer, country string) error {
	var docs inserted
	if err := s.insertCustomer(ctx, row, country, &docs); err != nil {
		return s.rollback(ctx, docs, err)
	}
	return nil
}

func (s *Syncer) insertCustomer(ctx context.Context, row ercom.Customer, country string, docs *inserted) error {
	c := erp.NewDoc("Customer")
	c["customer_name"] = row.Name
	c["customer_type"] = "Company"
	if row.Group != "" {
		c["custom_group_for_ercom_db"] = row.Group
	}
	c["custom_current_code"] = row.Code
	c["customer_details"] = row.Notes
	c["custom_tax_office"] = row.TaxOffice
	c["tax_id"] = row.TaxID
	customer, err := docs.insert(ctx, s.opts.ERP, c)
	if err != nil {
		return fmt.Errorf("create customer: %w", err)
	}
	link := erp.Doc{"link_doctype": "Customer", "link_name": customer.Name()}

	a := erp.NewDoc("Address")
	a["address_title"] = row.Name
	a["address_type"] = "Billing"
	a["address_line1"] = lo.CoalesceOrEmpty(row.Address1, row.Name)
	a["address_line2"] = row.Address2
	a["city"] = lo.CoalesceOrEmpty(row.City, defaultCity)
	a["country"] = country
	a["pincode"] = row.PostCode
	if row.Email != "" {
		a["email_id"] = row.Email
	}
	a["phone"] = row.Phone1
	a["fax"] = row.Fax
	a.Append("links", link)
	address, err := docs.insert(ctx, s.opts.ERP, a)
	if err != nil {
		return fmt.Errorf("create address: %w", err)
	}

	p := erp.NewDoc("Contact")
	p["status"] = "Open"
	p["first_name"] = row.Name
	p["full_name"] = row.Name
	p["address"] = address.Name()
	p["is_primary_contact"] = 1
	p.Append("links", link)
	if row.Email != "" {
		p.Append("email_ids", erp.Doc{"email_id": row.Email, "is_primary": 1})
	}
	if ercom.ValidPhone(row.Phone1) {
		p.Append("phone_nos", erp.Doc{"phone": strings.TrimSpace(row.Phone1), "is_primary_phone": 1})
	}
	if ercom.ValidPhone(row.Phone2) {
		p.Append("phone_nos", erp.Doc{"phone": strings.TrimSpace(row.Phone2), "is_primary_phone": 0})
	}
	contact, err := docs.insert(ctx, s.opts.ERP, p)
	if err != nil {
		return fmt.Errorf("create contact: %w", err)
	}

	_, err = s.opts.ERP.Save(ctx, erp.Doc{
		"doctype":                  "Customer",
		"name":                     customer.Name(),
		"customer_primary_address": address.Name(),
		"customer_primary_contact": contact.Name(),
	})
	if err != nil {
		return fmt.Errorf("link primary address: %w", err)
	}
	return nil
}
