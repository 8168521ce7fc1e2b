package definitions

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/rafaeljc/bifrost/internal/bucketing"
	"github.com/rafaeljc/bifrost/internal/groups"
	"github.com/rafaeljc/bifrost/internal/validation"
)

// ErrInvalid matches every *LintError through errors.Is.
var ErrInvalid = errors.New("invalid definitions")

var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// LintError collects every problem found in a project.
type LintError struct {
	problems []error
}

// Error lists one problem per line.
func (e *LintError) Error() string {
	return fmt.Sprintf("%d problem(s) in definitions:\n%s", len(e.problems), errors.Join(e.problems...))
}

// Problems returns the individual problems in a stable order.
func (e *LintError) Problems() []error {
	return slices.Clone(e.problems)
}

// Unwrap exposes the problems to errors.Is and errors.As.
func (e *LintError) Unwrap() []error {
	return e.problems
}

// Is reports true for ErrInvalid.
func (e *LintError) Is(target error) bool {
	return target == ErrInvalid
}

// linter accumulates problems while walking a project.
type linter struct {
	validate     *validator.Validate
	environments []string
	problems     []error
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	mustRegisterValidation(v, "slug", func(fl validator.FieldLevel) bool {
		return slugRegex.MatchString(fl.Field().String())
	})
	return v
}

func mustRegisterValidation(v *validator.Validate, tag string, fn validator.Func) {
	validation.AssertNoError(v.RegisterValidation(tag, fn), fmt.Sprintf("register %q validator", tag))
}

func (l *linter) addf(format string, args ...any) {
	l.problems = append(l.problems, fmt.Errorf(format, args...))
}

// structure runs the struct tags of v and reports each failed field.
func (l *linter) structure(where string, v any) {
	err := l.validate.Struct(v)
	if err == nil {
		return
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		l.addf("%s: %w", where, err)
		return
	}
	for _, fe := range fieldErrs {
		// Drop the root type name: "Feature.Variations[0].Value" -> "Variations[0].Value".
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		l.addf("%s: %s failed %q validation (value %q)", where, field, fe.Tag(), fmt.Sprint(fe.Value()))
	}
}

// Lint checks every guarantee the compiler relies on. It returns nil or a
// *LintError listing all problems, never just the first.
//
// environments lists the environments a build knows about; a feature that
// configures any other environment is reported.
func Lint(project *Project, environments []string) error {
	l := &linter{validate: newValidator(), environments: environments}

	segments := lo.SliceToMap(project.Segments, func(s Segment) (string, struct{}) {
		return s.Key, struct{}{}
	})
	for _, s := range project.Segments {
		l.structure(fmt.Sprintf("segment %q", s.Key), s)
	}
	for _, f := range project.Features {
		l.feature(f, segments)
	}
	l.groups(project)

	if len(l.problems) == 0 {
		return nil
	}
	return &LintError{problems: l.problems}
}

func (l *linter) feature(f Feature, segments map[string]struct{}) {
	where := fmt.Sprintf("feature %q", f.Key)
	l.structure(where, f)

	values := lo.Map(f.Variations, func(v Variation, _ int) string { return v.Value })
	if len(f.Variations) > 0 {
		total := lo.SumBy(f.Variations, func(v Variation) int { return v.Weight.Units() })
		if total != bucketing.Total {
			l.addf("%s: variation weights sum to %s%%, expected 100%%", where, bucketing.Percent(total))
		}
		for _, dup := range lo.FindDuplicates(values) {
			l.addf("%s: variation value %q is declared more than once", where, dup)
		}
	}

	envNames := lo.Keys(f.Environments)
	slices.Sort(envNames)
	for _, env := range envNames {
		envWhere := fmt.Sprintf("%s, environment %q", where, env)
		if !slices.Contains(l.environments, env) {
			l.addf("%s: unknown environment", envWhere)
			continue
		}

		rules := f.Environments[env].Rules
		keys := lo.Map(rules, func(r Rule, _ int) string { return r.Key })
		for _, dup := range lo.FindDuplicates(keys) {
			l.addf("%s: rule key %q is used more than once", envWhere, dup)
		}

		for _, r := range rules {
			ruleWhere := fmt.Sprintf("%s, rule %q", envWhere, r.Key)
			for _, s := range r.Segments {
				if _, ok := segments[s]; !ok {
					l.addf("%s: unknown segment %q", ruleWhere, s)
				}
			}
			if r.Variation != "" && !slices.Contains(values, r.Variation) {
				l.addf("%s: forced variation %q is not declared", ruleWhere, r.Variation)
			}
		}
	}
}

func (l *linter) groups(project *Project) {
	features := lo.SliceToMap(project.Features, func(f Feature) (string, struct{}) {
		return f.Key, struct{}{}
	})
	// Ranges each feature already holds, per group, for the cross-group overlap check.
	held := make(map[string][]groupRanges)

	for _, g := range project.Groups {
		where := fmt.Sprintf("group %q", g.Key)
		l.structure(where, g)

		total := lo.SumBy(g.Slots, func(s Slot) int { return s.Percentage.Units() })
		if total != bucketing.Total {
			l.addf("%s: slot percentages sum to %s%%, expected 100%%", where, bucketing.Percent(total))
		}

		for _, s := range g.Slots {
			if _, ok := features[s.Feature]; s.Feature != "" && !ok {
				l.addf("%s: slot references unknown feature %q", where, s.Feature)
			}
		}

		// Groups are carved independently, so a feature placed in two groups
		// must hold disjoint space in each.
		carving := groups.Carve([]groups.Group{g.carverGroup()})
		for _, feature := range lo.Uniq(lo.FilterMap(g.Slots, func(s Slot, _ int) (string, bool) {
			_, known := features[s.Feature]
			return s.Feature, known
		})) {
			mine := carving.RangesFor(feature)
			for _, prev := range held[feature] {
				if prev.ranges.Overlaps(mine) {
					l.addf("%s: slots of feature %q overlap its slots in group %q", where, feature, prev.group)
				}
			}
			held[feature] = append(held[feature], groupRanges{group: g.Key, ranges: mine})
		}
	}
}

type groupRanges struct {
	group  string
	ranges bucketing.Ranges
}
