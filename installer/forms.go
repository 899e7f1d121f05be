package installer

import (
	"context"
	"time"

	"github.com/hairizuan-noorazman/matomo-bootstrap/browser"
	"github.com/hairizuan-noorazman/matomo-bootstrap/logger"
)

// Field is one input of a wizard form.
type Field struct {
	Name     string
	Value    string
	Required bool
	// Select fields are chosen by option label.
	Select bool
}

// Form describes a wizard form. Signature names the field whose presence identifies the step.
type Form struct {
	Name      string
	Signature string
	Fields    []Field
}

// Superuser holds the administrator account typed into the wizard.
type Superuser struct {
	Login    string
	Password string
	Email    string
}

// Site holds the first website typed into the wizard.
type Site struct {
	Name      string
	URL       string
	Timezone  string
	Ecommerce string
}

// DatabaseSettings are typed into the database setup form when set.
type DatabaseSettings struct {
	Host        string
	Username    string
	Password    string
	Name        string
	TablePrefix string
}

// Configured reports whether any database value was provided.
func (s DatabaseSettings) Configured() bool {
	return s.Host != "" || s.Username != "" || s.Password != "" || s.Name != "" || s.TablePrefix != ""
}

// SuperuserForm returns the superuser step form.
func SuperuserForm(s Superuser) Form {
	return Form{
		Name:      "superuser",
		Signature: "login",
		Fields: []Field{
			{Name: "login", Value: s.Login, Required: true},
			{Name: "password", Value: s.Password, Required: true},
			{Name: "password_bis", Value: s.Password},
			{Name: "email", Value: s.Email, Required: true},
		},
	}
}

// SiteForm returns the first website step form.
func SiteForm(s Site) Form {
	return Form{
		Name:      "site",
		Signature: "siteName",
		Fields: []Field{
			{Name: "siteName", Value: s.Name},
			{Name: "url", Value: s.URL, Required: true},
			{Name: "timezone", Value: s.Timezone, Select: true},
			{Name: "ecommerce", Value: s.Ecommerce, Select: true},
		},
	}
}

// DatabaseForm returns the database setup step form. Empty values are left as rendered.
func DatabaseForm(s DatabaseSettings) Form {
	return Form{
		Name:      "database",
		Signature: "dbname",
		Fields: []Field{
			{Name: "host", Value: s.Host},
			{Name: "username", Value: s.Username},
			{Name: "password", Value: s.Password},
			{Name: "dbname", Value: s.Name},
			{Name: "tables_prefix", Value: s.TablePrefix},
		},
	}
}

// fillScript fills and submits the form owning the signature field in one evaluation.
const fillScript = `(arg) => {
  const find = (root, name) =>
    root.querySelector('#' + CSS.escape(name) + '-0') ||
    root.querySelector('[name="' + name + '"]');
  const sig = find(document, arg.signature);
  if (!sig || !sig.form) {
    return { ok: false, missing: [arg.signature] };
  }
  const form = sig.form;
  const missing = [];
  for (const f of arg.fields) {
    const el = find(form, f.name);
    if (!el) {
      missing.push(f.name);
      continue;
    }
    if (el.tagName === 'SELECT') {
      const opt = Array.from(el.options).find((o) => o.text.trim() === f.value || o.value === f.value);
      if (!opt) {
        missing.push(f.name);
        continue;
      }
      el.value = opt.value;
    } else {
      el.value = f.value;
    }
    el.dispatchEvent(new Event('input', { bubbles: true }));
    el.dispatchEvent(new Event('change', { bubbles: true }));
  }
  if (arg.required.some((n) => missing.includes(n))) {
    return { ok: false, missing: missing };
  }
  form.submit();
  return { ok: true, missing: missing };
}`

var submitProbes = []browser.Probe{
	browser.CSS("input[type='submit']"),
	browser.CSS("button[type='submit']"),
}

// FormFiller fills and submits wizard forms.
type FormFiller struct {
	finder   *browser.Finder
	driver   *Driver
	warnings *WarningCollector
	timing   Timing
	logger   logger.Logger
}

// NewFormFiller creates a form filler that falls back to driver for submission.
func NewFormFiller(finder *browser.Finder, driver *Driver, warnings *WarningCollector, timing Timing, log logger.Logger) *FormFiller {
	return &FormFiller{
		finder:   finder,
		driver:   driver,
		warnings: warnings,
		timing:   timing,
		logger:   log,
	}
}

// Present reports whether the form's signature field is on the page.
func (f *FormFiller) Present(ctx context.Context, page browser.Page, form Form) bool {
	return f.finder.Present(ctx, page, fieldProbes(form.Signature, false)...)
}

// Fill fills and submits form, then waits up to timeout for its signature field to go away.
func (f *FormFiller) Fill(ctx context.Context, page browser.Page, form Form, timeout time.Duration) error {
	log := f.logger.WithFields(map[string]interface{}{
		"form": form.Name,
		"step": StepHint(page.URL()),
	})

	submitted, err := f.fillDirect(ctx, page, form, log)
	if err != nil {
		return err
	}
	if !submitted {
		if err := f.fillFields(ctx, page, form, log); err != nil {
			return err
		}
		f.warnings.Collect(ctx, page)
		if err := f.submit(ctx, page, timeout, log); err != nil {
			return err
		}
	}

	return f.waitGone(ctx, page, form, timeout)
}

// fillDirect runs fillScript. It reports false when the caller should fill field by field.
func (f *FormFiller) fillDirect(ctx context.Context, page browser.Page, form Form, log logger.Logger) (bool, error) {
	fields := make([]map[string]interface{}, 0, len(form.Fields))
	required := make([]string, 0, len(form.Fields))
	for _, fd := range form.Fields {
		if fd.Value == "" {
			continue
		}
		fields = append(fields, map[string]interface{}{"name": fd.Name, "value": fd.Value})
		if fd.Required {
			required = append(required, fd.Name)
		}
	}

	result, err := page.Evaluate(fillScript, map[string]interface{}{
		"signature": form.Signature,
		"fields":    fields,
		"required":  required,
	})
	if err != nil {
		if browser.IsTransient(err) {
			// form.submit() navigated away while the evaluation was returning.
			log.Debug(ctx, "form submitted (navigation during evaluation)", nil)
			return true, nil
		}
		log.Debug(ctx, "direct form fill unavailable, filling field by field", map[string]interface{}{
			"error": err.Error(),
		})
		return false, nil
	}

	res, _ := result.(map[string]interface{})
	ok, _ := res["ok"].(bool)
	missing := res["missing"]
	if !ok {
		log.Debug(ctx, "direct form fill incomplete, filling field by field", map[string]interface{}{
			"missing": missing,
		})
		return false, nil
	}

	log.Info(ctx, "form filled and submitted", map[string]interface{}{
		"missing_optional": missing,
	})
	return true, nil
}

func (f *FormFiller) fillFields(ctx context.Context, page browser.Page, form Form, log logger.Logger) error {
	for _, fd := range form.Fields {
		if fd.Value == "" {
			if fd.Required {
				return &FieldNotFoundError{Form: form.Name, Field: fd.Name, URL: page.URL()}
			}
			continue
		}

		loc, _, found := f.finder.FirstVisible(ctx, page, fieldProbes(fd.Name, fd.Select)...)
		if !found {
			if fd.Required {
				return &FieldNotFoundError{Form: form.Name, Field: fd.Name, URL: page.URL()}
			}
			log.Debug(ctx, "optional field not found, skipping", map[string]interface{}{
				"field": fd.Name,
			})
			continue
		}

		if fd.Select {
			f.selectOption(ctx, page, loc, fd, log)
			continue
		}

		// Some installer versions only enable inputs after focus.
		if err := loc.Click(f.timing.ClickTimeout); err != nil {
			log.Debug(ctx, "focus click failed, filling anyway", map[string]interface{}{
				"field": fd.Name,
				"error": err.Error(),
			})
		}
		if err := loc.Fill(fd.Value); err != nil {
			if fd.Required {
				return err
			}
			log.Warn(ctx, "optional field could not be filled", map[string]interface{}{
				"field": fd.Name,
				"error": err.Error(),
			})
		}
	}
	return nil
}

// selectOption picks an option by label, falling back to the custom dropdown widget.
// Selection failures are logged and skipped.
func (f *FormFiller) selectOption(ctx context.Context, page browser.Page, loc browser.Locator, fd Field, log logger.Logger) {
	err := loc.SelectOption(fd.Value)
	if err == nil {
		return
	}

	if clickErr := loc.Click(f.timing.ClickTimeout); clickErr == nil {
		option := page.GetByText(fd.Value, true).First()
		if clickErr = option.Click(f.timing.ClickTimeout); clickErr == nil {
			return
		}
		err = clickErr
	}
	log.Warn(ctx, "selection skipped (not found or changed UI)", map[string]interface{}{
		"field": fd.Name,
		"value": fd.Value,
		"error": err.Error(),
	})
}

func (f *FormFiller) submit(ctx context.Context, page browser.Page, timeout time.Duration, log logger.Logger) error {
	clicked, err := f.driver.ClickIfPresent(ctx, page, submitProbes...)
	if err != nil {
		log.Debug(ctx, "submit control click failed, using next control", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if clicked {
		return nil
	}
	_, err = f.driver.ClickNext(ctx, page, timeout)
	return err
}

func (f *FormFiller) waitGone(ctx context.Context, page browser.Page, form Form, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if !f.Present(ctx, page, form) {
			return nil
		}
		if !time.Now().Before(deadline) {
			return f.driver.timeoutError(ctx, page, "the "+form.Name+" form was not accepted", timeout)
		}
		if err := sleep(ctx, f.timing.PollInterval); err != nil {
			return err
		}
	}
}
