package rules

import (
	"fmt"
	"time"

	"github.com/beevik/etree"

	"github.com/jhoicas/Efile-api/pkg/mef"
)

// RuleError error de validación que bloquea el envío.
type RuleError struct {
	Code     string   `json:"code"`
	Rule     string   `json:"rule"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Category string   `json:"category"`
}

// RuleWarning advertencia de validación, no bloquea el envío.
type RuleWarning struct {
	Code     string   `json:"code"`
	Rule     string   `json:"rule"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Category string   `json:"category"`
}

// RuleCheck traza de ejecución de una regla individual.
type RuleCheck struct {
	RuleID   string `json:"ruleId"`
	RuleName string `json:"ruleName"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
}

// Summary conteo agregado del reporte.
type Summary struct {
	TotalRules int `json:"totalRules"`
	Passed     int `json:"passed"`
	Failed     int `json:"failed"`
	Warnings   int `json:"warnings"`
}

// Result reporte completo de validación de una declaración.
type Result struct {
	Valid       bool          `json:"valid"`
	ReturnType  string        `json:"returnType"`
	TaxYear     string        `json:"taxYear"`
	Environment string        `json:"environment"`
	Errors      []RuleError   `json:"errors"`
	Warnings    []RuleWarning `json:"warnings"`
	RuleChecks  []RuleCheck   `json:"ruleChecks"`
	Summary     Summary       `json:"summary"`
	ValidatedAt time.Time     `json:"validatedAt"`
}

// Validator motor de reglas MeF. El registro se carga una vez en la
// construcción; el motor es seguro para uso concurrente porque nunca
// muta las reglas.
type Validator struct {
	rules []Rule
}

// NewValidator crea el motor con el registro completo de reglas.
func NewValidator() *Validator {
	return &Validator{rules: allRules()}
}

// Rules devuelve el registro de reglas (para introspección/documentación).
func (v *Validator) Rules() []Rule {
	return v.rules
}

// RulesFor devuelve las reglas aplicables a un tipo de declaración.
func (v *Validator) RulesFor(returnType string) []Rule {
	var out []Rule
	for _, r := range v.rules {
		if r.AppliesTo(returnType) {
			out = append(out, r)
		}
	}
	return out
}

// Validate ejecuta todas las reglas aplicables sobre el payload y produce
// el reporte completo. Nunca hace pánico hacia el caller: un payload vacío
// o no-XML produce un reporte inválido con errores estructurales, y una
// regla que hace pánico se registra como error de ejecución sin abortar
// las demás.
func (v *Validator) Validate(returnXML, returnType string, ctx *Context) *Result {
	if ctx == nil {
		ctx = &Context{}
	}
	ctx.ReturnType = returnType
	if ctx.Environment == "" {
		ctx.Environment = mef.EnvironmentATS
	}

	doc := parseDocument(returnXML)
	if ctx.TaxYear == "" {
		ctx.TaxYear = taxYearText(doc)
	}
	if !ctx.Amended {
		ctx.Amended = mef.FormFamily(returnType) == mef.Family1040 && returnType == mef.Form1040X
	}

	res := &Result{
		Valid:       true,
		ReturnType:  returnType,
		TaxYear:     ctx.TaxYear,
		Environment: ctx.Environment,
		Errors:      []RuleError{},
		Warnings:    []RuleWarning{},
		ValidatedAt: time.Now().UTC(),
	}

	for i := range v.rules {
		rule := &v.rules[i]
		if !rule.AppliesTo(returnType) {
			continue
		}

		passed, execErr := runRule(rule, doc, returnXML, ctx)
		res.Summary.TotalRules++

		check := RuleCheck{RuleID: rule.ID, RuleName: rule.Name, Passed: passed}
		if execErr != nil {
			// La regla falló en ejecución: se reporta como rechazo para no
			// dejar pasar una declaración que no pudimos evaluar.
			res.Valid = false
			res.Summary.Failed++
			msg := fmt.Sprintf("rule execution error: %v", execErr)
			check.Passed = false
			check.Message = msg
			res.Errors = append(res.Errors, RuleError{
				Code: rule.ID, Rule: rule.Name, Message: msg,
				Severity: SeverityError, Category: rule.Category,
			})
			res.RuleChecks = append(res.RuleChecks, check)
			continue
		}

		if passed {
			res.Summary.Passed++
			res.RuleChecks = append(res.RuleChecks, check)
			continue
		}

		check.Message = rule.Message
		res.RuleChecks = append(res.RuleChecks, check)

		switch rule.Severity {
		case SeverityWarning:
			res.Summary.Warnings++
			res.Warnings = append(res.Warnings, RuleWarning{
				Code: rule.ID, Rule: rule.Name, Message: rule.Message,
				Severity: rule.Severity, Category: rule.Category,
			})
		default: // reject y error bloquean
			res.Valid = false
			res.Summary.Failed++
			res.Errors = append(res.Errors, RuleError{
				Code: rule.ID, Rule: rule.Name, Message: rule.Message,
				Severity: rule.Severity, Category: rule.Category,
			})
		}
	}

	return res
}

// QuickValidate ejecuta solo las reglas de severidad reject y devuelve los
// fallos como lista plana "[ID] mensaje". Pensado para chequeos previos en
// formularios, donde no hace falta el reporte completo.
func (v *Validator) QuickValidate(returnXML, returnType string) (bool, []string) {
	doc := parseDocument(returnXML)
	ctx := &Context{
		ReturnType:  returnType,
		TaxYear:     taxYearText(doc),
		Environment: mef.EnvironmentATS,
	}

	var failures []string
	for i := range v.rules {
		rule := &v.rules[i]
		if rule.Severity != SeverityReject || !rule.AppliesTo(returnType) {
			continue
		}
		passed, execErr := runRule(rule, doc, returnXML, ctx)
		if execErr != nil || !passed {
			failures = append(failures, fmt.Sprintf("[%s] %s", rule.ID, rule.Message))
		}
	}
	return len(failures) == 0, failures
}

// runRule ejecuta una regla con recuperación de pánico.
func runRule(rule *Rule, doc *etree.Document, raw string, ctx *Context) (passed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			passed = false
			err = fmt.Errorf("%s: %v", rule.ID, r)
		}
	}()
	return rule.Check(doc, raw, ctx), nil
}

// parseDocument parsea el payload; devuelve nil si no es XML bien formado,
// para que las reglas estructurales lo reporten en vez de abortar.
func parseDocument(raw string) *etree.Document {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(raw); err != nil {
		return nil
	}
	if doc.Root() == nil {
		return nil
	}
	return doc
}
