package session

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"visa-slot-monitor/internal/extract"
	"visa-slot-monitor/internal/model"
	"visa-slot-monitor/internal/parse"
)

// AutofillOutcome reports what an autofill pass did on the booking form.
type AutofillOutcome struct {
	Mode         model.AutofillMode
	Attempted    bool
	SlotSelected bool
	Submitted    bool
	URL          string
	FilledFields []string
}

type fieldRule struct {
	name      string
	selectors []string
	value     func(p *model.Profile) string
}

// fieldRules lists, per logical field, selectors from most to least specific.
var fieldRules = []fieldRule{
	{
		name: "full_name",
		selectors: []string{
			"#full_name",
			"input[name='full_name']",
			"input[name*='fullname']",
			"input[id*='fullname']",
			"input[name*='name']:not([name*='user']):not([type='hidden'])",
		},
		value: func(p *model.Profile) string { return p.FullName },
	},
	{
		name: "passport_number",
		selectors: []string{
			"#passport_number",
			"#passport",
			"input[name*='passport']",
			"input[id*='passport']",
		},
		value: func(p *model.Profile) string { return p.PassportNumber },
	},
	{
		name: "email",
		selectors: []string{
			"#email",
			"input[type='email']",
			"input[name*='email']",
			"input[id*='email']",
		},
		value: func(p *model.Profile) string { return p.Email },
	},
	{
		name: "phone",
		selectors: []string{
			"#phone",
			"#mobile",
			"input[type='tel']",
			"input[name*='phone']",
			"input[name*='mobile']",
			"input[id*='phone']",
		},
		value: func(p *model.Profile) string { return p.Phone },
	},
	{
		name: "date_of_birth",
		selectors: []string{
			"#date_of_birth",
			"#dob",
			"input[type='date'][name*='birth']",
			"input[name*='dob']",
			"input[id*='birth']",
		},
		value: func(p *model.Profile) string {
			if p.DateOfBirth.IsZero() {
				return ""
			}
			return parse.FormatDate(p.DateOfBirth)
		},
	},
	{
		name: "nationality",
		selectors: []string{
			"#nationality",
			"select[name*='nationality']",
			"select[id*='nationality']",
			"input[name*='nationality']",
		},
		value: func(p *model.Profile) string { return p.Nationality },
	},
	{
		name: "visa_category",
		selectors: []string{
			"#visa_category",
			"select[name*='visa']",
			"select[name*='category']",
			"#category",
		},
		value: func(p *model.Profile) string { return string(p.VisaCategory) },
	},
}

var submitSelectors = []string{
	"form button[type='submit']",
	"button[type='submit']",
	"input[type='submit']",
	"#submit",
	".submit-button",
}

// autofill selects the slot, fills the form from the profile and, in full mode,
// submits it. Individual misses are logged and skipped.
func (d *Driver) autofill(ctx context.Context, page Page, p *model.Profile, slot extract.Slot, mode model.AutofillMode) AutofillOutcome {
	out := AutofillOutcome{Mode: mode, Attempted: true}
	log := d.logger.With(zap.String("profile_id", p.ID), zap.String("mode", string(mode)))

	out.SlotSelected = d.selectSlot(ctx, page, slot)

	for _, rule := range fieldRules {
		value := rule.value(p)
		if value == "" {
			continue
		}
		if d.fillField(ctx, page, rule, value) {
			out.FilledFields = append(out.FilledFields, rule.name)
			_ = sleep(ctx, d.opts.FieldDelay)
		}
	}
	log.Info("form filled", zap.Strings("fields", out.FilledFields), zap.Bool("slot_selected", out.SlotSelected))

	if mode == model.AutofillFull {
		out.Submitted = d.submit(ctx, page)
		if !out.Submitted {
			log.Warn("no usable submit control")
		}
	}
	out.URL = page.URL()
	return out
}

func (d *Driver) fillField(ctx context.Context, page Page, rule fieldRule, value string) bool {
	for _, sel := range rule.selectors {
		el, err := page.Find(ctx, sel)
		if err != nil {
			continue
		}
		if !el.Visible() {
			continue
		}
		if el.Tag() == "select" {
			opts, err := el.Options()
			if err != nil {
				continue
			}
			v, ok := MatchOption(opts, value)
			if !ok {
				continue
			}
			if err := el.Select(v); err != nil {
				d.logger.Debug("select failed", zap.String("field", rule.name), zap.Error(err))
				continue
			}
			return true
		}
		if err := el.Type(value); err != nil {
			d.logger.Debug("type failed", zap.String("field", rule.name), zap.Error(err))
			continue
		}
		return true
	}
	return false
}

func slotDateSelectors(slot extract.Slot) []string {
	iso := parse.FormatDate(slot.Date)
	dmy := slot.Date.Format("02/01/2006")
	return []string{
		"[data-date='" + iso + "']",
		"[data-date='" + dmy + "']",
		"[aria-label*='" + iso + "']",
		"[aria-label*='" + dmy + "']",
	}
}

// selectSlot clicks the slot's date cell and, when known, its time.
func (d *Driver) selectSlot(ctx context.Context, page Page, slot extract.Slot) bool {
	picked := false
	for _, sel := range slotDateSelectors(slot) {
		el, err := page.Find(ctx, sel)
		if err != nil || elementDisabled(el) {
			continue
		}
		if err := el.Click(); err != nil {
			continue
		}
		picked = true
		_ = sleep(ctx, d.opts.ClickDelay)
		break
	}
	if !picked || slot.Time == "" {
		return picked
	}
	for _, sel := range []string{"[data-time='" + slot.Time + "']", "option[value='" + slot.Time + "']"} {
		el, err := page.Find(ctx, sel)
		if err != nil || elementDisabled(el) {
			continue
		}
		if err := el.Click(); err == nil {
			_ = sleep(ctx, d.opts.ClickDelay)
			break
		}
	}
	return picked
}

func (d *Driver) submit(ctx context.Context, page Page) bool {
	for _, sel := range submitSelectors {
		el, err := page.Find(ctx, sel)
		if err != nil || elementDisabled(el) || !el.Visible() {
			continue
		}
		if err := el.Click(); err != nil {
			d.logger.Debug("submit click failed", zap.String("selector", sel), zap.Error(err))
			continue
		}
		_ = sleep(ctx, d.opts.SettleDelay)
		return true
	}
	return false
}

func elementDisabled(el Element) bool {
	if !el.Enabled() {
		return true
	}
	cls, _ := el.Attr("class")
	for _, c := range strings.Fields(strings.ToLower(cls)) {
		switch c {
		case "disabled", "unavailable", "booked":
			return true
		}
	}
	return false
}
