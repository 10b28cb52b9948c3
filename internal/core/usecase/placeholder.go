package usecase

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/finbotics/business-assistant/internal/core/domain"
)

// Placeholders in step parameters come in two typed forms:
//
//	{{vendor}}           plan-level parameter, resolved when the plan is built
//	{{step1.data.count}} result of an earlier step, resolved during execution
//
// A string that is exactly one placeholder resolves to the referenced value
// with its original type; placeholders embedded in longer strings are
// interpolated as text.

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

type placeholderRef interface {
	isPlaceholderRef()
}

type stepRef struct {
	StepNumber int
	Path       []string
}

type paramRef struct {
	Name string
}

func (stepRef) isPlaceholderRef()  {}
func (paramRef) isPlaceholderRef() {}

func parseRef(expr string) (placeholderRef, error) {
	parts := strings.Split(expr, ".")
	head := parts[0]
	if strings.HasPrefix(head, "step") {
		n, err := strconv.Atoi(strings.TrimPrefix(head, "step"))
		if err != nil || n <= 0 {
			return nil, domain.WrapError(domain.ErrValidation, "parse placeholder", fmt.Errorf("bad step reference %q", expr))
		}
		return stepRef{StepNumber: n, Path: parts[1:]}, nil
	}
	if len(parts) != 1 {
		return nil, domain.WrapError(domain.ErrValidation, "parse placeholder", fmt.Errorf("bad parameter reference %q", expr))
	}
	return paramRef{Name: head}, nil
}

type refResolver func(ref placeholderRef) (any, bool, error)

// resolveValue walks a parameter value and substitutes every placeholder.
// A resolver reporting a reference as absent yields nil (whole-string form)
// or empty text (interpolated form); resolvers return an error themselves
// when absence is not acceptable.
func resolveValue(value any, resolve refResolver) (any, error) {
	switch v := value.(type) {
	case string:
		return resolveString(v, resolve)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, nested := range v {
			resolved, err := resolveValue(nested, resolve)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, nested := range v {
			resolved, err := resolveValue(nested, resolve)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func resolveString(s string, resolve refResolver) (any, error) {
	matches := placeholderPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// Whole-string placeholder keeps the referenced value's type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		ref, err := parseRef(s[matches[0][2]:matches[0][3]])
		if err != nil {
			return nil, err
		}
		value, ok, err := resolve(ref)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return value, nil
	}

	var builder strings.Builder
	last := 0
	for _, m := range matches {
		builder.WriteString(s[last:m[0]])
		ref, err := parseRef(s[m[2]:m[3]])
		if err != nil {
			return nil, err
		}
		value, ok, err := resolve(ref)
		if err != nil {
			return nil, err
		}
		if ok {
			builder.WriteString(fmt.Sprint(value))
		}
		last = m[1]
	}
	builder.WriteString(s[last:])
	return builder.String(), nil
}

// resolvePlanParams substitutes plan-level parameters at build time and
// leaves step references in place for the executor.
func resolvePlanParams(params map[string]any, planParams map[string]any) (map[string]any, error) {
	resolved, err := resolveValue(params, func(ref placeholderRef) (any, bool, error) {
		switch r := ref.(type) {
		case paramRef:
			value, ok := planParams[r.Name]
			if !ok {
				return nil, false, domain.WrapError(domain.ErrValidation, "resolve plan params",
					fmt.Errorf("unbound parameter %q", r.Name))
			}
			return value, true, nil
		case stepRef:
			// Deferred to execution; reconstruct the literal placeholder.
			expr := "step" + strconv.Itoa(r.StepNumber)
			if len(r.Path) > 0 {
				expr += "." + strings.Join(r.Path, ".")
			}
			return "{{" + expr + "}}", true, nil
		default:
			return nil, false, nil
		}
	})
	if err != nil {
		return nil, err
	}
	out, ok := resolved.(map[string]any)
	if !ok {
		return nil, domain.WrapError(domain.ErrValidation, "resolve plan params", fmt.Errorf("unexpected shape"))
	}
	return out, nil
}

// resolveStepParams substitutes references to completed step results right
// before a step runs. Results are keyed by step number. A reference to a
// field the result does not carry resolves to nil; the called tool decides
// whether a missing parameter is fatal. Only a missing step result errors.
func resolveStepParams(params map[string]any, results map[int]map[string]any) (map[string]any, error) {
	resolved, err := resolveValue(params, func(ref placeholderRef) (any, bool, error) {
		switch r := ref.(type) {
		case stepRef:
			result, ok := results[r.StepNumber]
			if !ok {
				return nil, false, domain.WrapError(domain.ErrDependencyUnmet, "resolve step params",
					fmt.Errorf("step %d has no result", r.StepNumber))
			}
			value, ok := dig(result, r.Path)
			return value, ok, nil
		case paramRef:
			return nil, false, domain.WrapError(domain.ErrValidation, "resolve step params",
				fmt.Errorf("unbound parameter %q", r.Name))
		default:
			return nil, false, nil
		}
	})
	if err != nil {
		return nil, err
	}
	out, ok := resolved.(map[string]any)
	if !ok {
		return nil, domain.WrapError(domain.ErrValidation, "resolve step params", fmt.Errorf("unexpected shape"))
	}
	return out, nil
}

func dig(value map[string]any, path []string) (any, bool) {
	if len(path) == 0 {
		return value, true
	}
	var current any = value
	for _, key := range path {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
