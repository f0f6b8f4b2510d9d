// Package policy applies a YAML policy document's field rewrites to a
// test or plan before a run starts, per spec §4.10. Each rule selects
// entities by name regex and either sets, appends to, or merges into
// one or more fields; unknown field names are rejected rather than
// silently ignored. The rule shape (`for`/`set`/`append`/`merge` as a
// discriminated operation keyed by name) follows the teacher's
// `fsm.go` `Command{Op, Data}` dispatch idiom, generalized from a
// single `op` string to three parallel rewrite maps since a policy
// rule commonly does more than one kind of rewrite at once.
package policy

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/tmt/pkg/types"
)

// Kind names which entity a Document's rules target.
type Kind string

const (
	KindTest Kind = "test"
	KindPlan Kind = "plan"
)

// Rule is one policy rewrite: For selects entities by name regex
// (empty matches everything); Set overwrites a field outright, Append
// adds to a slice or string-map field, Merge deep-merges into a
// string-map field.
type Rule struct {
	For    string                 `yaml:"for"`
	Set    map[string]interface{} `yaml:"set"`
	Append map[string]interface{} `yaml:"append"`
	Merge  map[string]interface{} `yaml:"merge"`
}

// Document is one policy file's parsed content.
type Document struct {
	Kind  Kind   `yaml:"kind"`
	Rules []Rule `yaml:"rules"`
}

// testAliases maps a policy field name to types.Test's Go field name;
// the vocabulary matches pkg/step/discover.go's testFromData keys so
// a policy author uses the same names discover's metadata maps do.
var testAliases = map[string]string{
	"name":                "Name",
	"path":                "Path",
	"test":                "Test",
	"framework":           "Framework",
	"duration":            "Duration",
	"environment":         "Environment",
	"require":             "Require",
	"recommend":           "Recommend",
	"result":              "Result",
	"tag":                 "Tag",
	"tier":                "Tier",
	"order":               "Order",
	"enabled":             "Enabled",
	"tty":                 "TTY",
	"restart-with-reboot": "RestartWithReboot",
	"max-restarts":        "MaxRestarts",
	"where":               "Where",
}

// planAliases maps a policy field name to types.Plan's Go field name.
var planAliases = map[string]string{
	"name":        "Name",
	"environment": "Environment",
	"env-files":   "EnvFiles",
	"gate":        "Gate",
}

// Load reads and parses a policy YAML document from path (the
// "--policy-file PATH" CLI option).
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("policy: read %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("policy: parse %s: %w", path, err)
	}
	return doc, nil
}

// ApplyToTest applies every rule in doc whose selector matches test's
// name, in declaration order.
func ApplyToTest(doc Document, test *types.Test) error {
	return applyRules(reflect.ValueOf(test).Elem(), testAliases, test.Name, doc.Rules)
}

// ApplyToPlan applies every rule in doc whose selector matches plan's
// name, in declaration order.
func ApplyToPlan(doc Document, plan *types.Plan) error {
	return applyRules(reflect.ValueOf(plan).Elem(), planAliases, plan.Name, doc.Rules)
}

func applyRules(v reflect.Value, aliases map[string]string, entityName string, rules []Rule) error {
	for _, rule := range rules {
		if rule.For != "" {
			matched, err := regexp.MatchString(rule.For, entityName)
			if err != nil {
				return fmt.Errorf("policy: invalid selector %q: %w", rule.For, err)
			}
			if !matched {
				continue
			}
		}

		if err := applyOp(v, aliases, rule.Set, opSet); err != nil {
			return err
		}
		if err := applyOp(v, aliases, rule.Append, opAppend); err != nil {
			return err
		}
		if err := applyOp(v, aliases, rule.Merge, opMerge); err != nil {
			return err
		}
	}
	return nil
}

type op int

const (
	opSet op = iota
	opAppend
	opMerge
)

func applyOp(v reflect.Value, aliases map[string]string, values map[string]interface{}, kind op) error {
	for key, raw := range values {
		fieldName, ok := aliases[key]
		if !ok {
			return fmt.Errorf("policy: unknown field %q", key)
		}
		field := v.FieldByName(fieldName)
		if !field.IsValid() {
			return fmt.Errorf("policy: field %q has no backing struct field", key)
		}
		if err := applyField(field, raw, kind); err != nil {
			return fmt.Errorf("policy: field %q: %w", key, err)
		}
	}
	return nil
}

func applyField(field reflect.Value, raw interface{}, kind op) error {
	switch field.Kind() {
	case reflect.String:
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", raw)
		}
		field.SetString(s)
		return nil

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := durationFrom(raw)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, ok := toInt(raw)
		if !ok {
			return fmt.Errorf("expected int, got %T", raw)
		}
		field.SetInt(n)
		return nil

	case reflect.Bool:
		b, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", raw)
		}
		field.SetBool(b)
		return nil

	case reflect.Slice:
		items, err := toStringSlice(raw)
		if err != nil {
			return err
		}
		if kind == opSet {
			field.Set(reflect.ValueOf(items))
			return nil
		}
		existing, _ := toStringSlice(field.Interface())
		field.Set(reflect.ValueOf(append(existing, items...)))
		return nil

	case reflect.Map:
		m, err := toStringMap(raw)
		if err != nil {
			return err
		}
		if kind == opSet || field.IsNil() {
			field.Set(reflect.ValueOf(m))
			return nil
		}
		merged := map[string]string{}
		iter := field.MapRange()
		for iter.Next() {
			merged[iter.Key().String()] = iter.Value().String()
		}
		for k, v := range m {
			merged[k] = v
		}
		field.Set(reflect.ValueOf(merged))
		return nil

	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
}

func durationFrom(raw interface{}) (time.Duration, error) {
	switch t := raw.(type) {
	case string:
		return types.ParseDuration(t)
	default:
		return 0, fmt.Errorf("expected duration string, got %T", raw)
	}
}

func toInt(raw interface{}) (int64, bool) {
	switch t := raw.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	}
	return 0, false
}

func toStringSlice(raw interface{}) ([]string, error) {
	switch t := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		return t, nil
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string list element, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string list, got %T", raw)
	}
}

func toStringMap(raw interface{}) (map[string]string, error) {
	switch t := raw.(type) {
	case nil:
		return nil, nil
	case map[string]string:
		return t, nil
	case map[string]interface{}:
		out := make(map[string]string, len(t))
		for k, v := range t {
			out[k] = fmt.Sprintf("%v", v)
		}
		return out, nil
	case map[interface{}]interface{}:
		out := make(map[string]string, len(t))
		for k, v := range t {
			out[fmt.Sprintf("%v", k)] = fmt.Sprintf("%v", v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string map, got %T", raw)
	}
}
