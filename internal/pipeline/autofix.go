package pipeline

import (
	"regexp"
	"strings"

	"scenesmith/internal/logging"
	"scenesmith/internal/memory"
)

// Rule is one deterministic rewrite: Match decides from the signature and
// code whether the rule applies, Apply performs the purely syntactic fix.
type Rule struct {
	Name  string
	Match func(sig memory.Signature, code string) bool
	Apply func(code string) string
}

// AutoFixer applies an ordered table of deterministic rewrites for errors
// whose fix is structurally unambiguous. The first matching rule wins; no
// match is the normal outcome that escalates to the next tier.
type AutoFixer struct {
	rules []Rule
}

// NewAutoFixer builds the engine with the built-in rule table. Extra rules,
// typically loaded from a user rules file, run after the built-ins.
func NewAutoFixer(extra ...Rule) *AutoFixer {
	return &AutoFixer{rules: append(builtinRules(), extra...)}
}

// TryFix returns the rewritten code and the name of the rule that fired, or
// ok=false when no rule matches.
func (a *AutoFixer) TryFix(sig memory.Signature, code string) (fixed string, rule string, ok bool) {
	for _, r := range a.rules {
		if !r.Match(sig, code) {
			continue
		}
		out := r.Apply(code)
		if out == code {
			// The predicate fired but the rewrite found nothing to change.
			continue
		}
		logging.FixChain("auto-fix rule %q applied", r.Name)
		return out, r.Name, true
	}
	return "", "", false
}

func msgContains(sub string) func(memory.Signature, string) bool {
	sub = strings.ToLower(sub)
	return func(sig memory.Signature, _ string) bool {
		return strings.Contains(sig.NormalizedMessage, sub)
	}
}

func msgAndCode(msgSub, codeSub string) func(memory.Signature, string) bool {
	msgSub = strings.ToLower(msgSub)
	return func(sig memory.Signature, code string) bool {
		return strings.Contains(sig.NormalizedMessage, msgSub) && strings.Contains(code, codeSub)
	}
}

var (
	listArgsPattern   = regexp.MustCompile(`\b(Line|Arrow|DashedLine|Vector)\(\s*\[([^\[\]]+)\]\s*\)`)
	buffKwargPattern  = regexp.MustCompile(`Arrow3D\([^)]*\)`)
	buffParamPattern  = regexp.MustCompile(`,?\s*buff=[^,)]*`)
	surroundPattern   = regexp.MustCompile(`\bSurround\(([^)]+)\)`)
	badImportPattern  = regexp.MustCompile(`from manim import \*,\s*\w*`)
	animTransformPat  = regexp.MustCompile(`Transform\((\w+), (\w+)\.animate\.([^)]+)\)`)
	svgMobjectPattern = regexp.MustCompile(`SVGMobject\("([^"]+\.svg)"\)`)
)

var boundaryComparisons = []struct {
	pattern *regexp.Regexp
	repl    string
}{
	{regexp.MustCompile(`(\w+)\.get_bottom\(\)\s*([<>]=?)\s*(-?\d+\.?\d*)`), `$1.get_bottom()[1] $2 $3`},
	{regexp.MustCompile(`(\w+)\.get_top\(\)\s*([<>]=?)\s*(-?\d+\.?\d*)`), `$1.get_top()[1] $2 $3`},
	{regexp.MustCompile(`(\w+)\.get_left\(\)\s*([<>]=?)\s*(-?\d+\.?\d*)`), `$1.get_left()[0] $2 $3`},
	{regexp.MustCompile(`(\w+)\.get_right\(\)\s*([<>]=?)\s*(-?\d+\.?\d*)`), `$1.get_right()[0] $2 $3`},
}

func builtinRules() []Rule {
	return []Rule{
		{
			// Line([p1, p2]) where Line(p1, p2) is expected.
			Name:  "positional-unpack",
			Match: msgContains("got unexpected arguments"),
			Apply: func(code string) string {
				return listArgsPattern.ReplaceAllString(code, "$1($2)")
			},
		},
		{
			Name:  "stray-fences",
			Match: msgAndCode("invalid syntax", "```"),
			Apply: func(code string) string {
				return strings.ReplaceAll(code, "```", "")
			},
		},
		{
			Name:  "malformed-star-import",
			Match: msgContains("invalid syntax"),
			Apply: func(code string) string {
				return badImportPattern.ReplaceAllString(code, "from manim import *")
			},
		},
		{
			Name:  "arrow3d-buff-kwarg",
			Match: msgAndCode("unexpected keyword argument 'buff'", "Arrow3D"),
			Apply: func(code string) string {
				return buffKwargPattern.ReplaceAllStringFunc(code, func(call string) string {
					call = buffParamPattern.ReplaceAllString(call, "")
					call = strings.ReplaceAll(call, ",,", ",")
					return strings.ReplaceAll(call, "(,", "(")
				})
			},
		},
		{
			Name: "frame-constants",
			Match: func(sig memory.Signature, _ string) bool {
				return strings.Contains(sig.NormalizedMessage, "has no attribute 'frame_") ||
					strings.Contains(sig.NormalizedMessage, "object is not subscriptable") &&
						strings.Contains(sig.NormalizedMessage, "config")
			},
			Apply: func(code string) string {
				r := strings.NewReplacer(
					`config["frame_x_radius"]`, "7.0",
					`config["frame_y_radius"]`, "4.0",
					"-config.frame_width / 2", "-7.0",
					"config.frame_width / 2", "7.0",
					"-config.frame_height / 2", "-4.0",
					"config.frame_height / 2", "4.0",
					"config.frame_x_radius", "7.0",
					"config.frame_y_radius", "4.0",
					"config.frame_width", "14.0",
					"config.frame_height", "8.0",
				)
				return r.Replace(code)
			},
		},
		{
			Name:  "ambiguous-array-comparison",
			Match: msgContains("truth value of an array"),
			Apply: func(code string) string {
				for _, bc := range boundaryComparisons {
					code = bc.pattern.ReplaceAllString(code, bc.repl)
				}
				return code
			},
		},
		{
			// Surround was removed from manim; Circumscribe is the modern form.
			Name: "renamed-surround",
			Match: func(sig memory.Signature, code string) bool {
				return (strings.Contains(sig.NormalizedMessage, "is not defined") ||
					strings.Contains(sig.NormalizedMessage, "cannot import name")) &&
					strings.Contains(code, "Surround(")
			},
			Apply: func(code string) string {
				return surroundPattern.ReplaceAllString(code, "Circumscribe($1)")
			},
		},
		{
			Name:  "transform-animate-misuse",
			Match: msgAndCode("object of type 'function' has no len()", "Transform"),
			Apply: func(code string) string {
				return animTransformPat.ReplaceAllStringFunc(code, func(m string) string {
					sub := animTransformPat.FindStringSubmatch(m)
					if sub[1] == sub[2] {
						return sub[1] + ".animate." + sub[3]
					}
					return m
				})
			},
		},
		{
			Name: "missing-svg-asset",
			Match: func(sig memory.Signature, _ string) bool {
				return strings.Contains(sig.NormalizedMessage, "could not find") &&
					strings.Contains(sig.NormalizedMessage, ".svg")
			},
			Apply: func(code string) string {
				return svgMobjectPattern.ReplaceAllString(code,
					`Rectangle(height=0.5, width=0.5, color=YELLOW)`)
			},
		},
	}
}
