package build

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// tagRe matches a valid Docker tag.
var tagRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,127}$`)

// ResolveTags expands a job's tag templates into full image references.
// The first reference is the primary tag: it is pulled, built and tagged
// from; the rest are applied to it afterwards.
//
// Supported templates:
//
//	{version}        → "1.2.3"
//	{major}          → "1"
//	{minor}          → "2"
//	{patch}          → "3"
//	{major}.{minor}  → "1.2"
//	{branch}         → "main"  (slashes become dashes)
//	{sha}            → "abc1234"  (first 7 characters of Commit)
//	latest           → "latest"   (literal passthrough)
//
// A template that contains ':' is a full reference and is used as-is.
// Templates whose inputs are missing are skipped, as are {major} and
// {minor} floating tags for prerelease versions. Duplicates are dropped.
func ResolveTags(opts Options) ([]string, error) {
	if opts.Repo == "" {
		return nil, fmt.Errorf("build: repo is required")
	}

	templates := opts.Tags
	if len(templates) == 0 {
		templates = []string{"latest"}
	}

	vars := templateVars(opts)

	seen := make(map[string]bool, len(templates))
	refs := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		tag, ok := expandTemplate(strings.TrimSpace(tmpl), vars)
		if !ok {
			continue
		}

		ref := tag
		if !strings.Contains(tag, ":") {
			ref = opts.Repo + ":" + tag
		}
		if _, t := SplitRef(ref); !tagRe.MatchString(t) {
			return nil, fmt.Errorf("build: invalid tag %q from template %q", t, tmpl)
		}
		if seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}

	if len(refs) == 0 {
		return nil, fmt.Errorf("build: no tags resolved for %s", opts.Repo)
	}
	return refs, nil
}

// SplitRef splits "host:5000/repo:tag" into repository and tag. The tag
// defaults to "latest" when the reference has none.
func SplitRef(ref string) (repo, tag string) {
	slash := strings.LastIndex(ref, "/")
	colon := strings.LastIndex(ref, ":")
	if colon <= slash {
		return ref, "latest"
	}
	return ref[:colon], ref[colon+1:]
}

// templateVars resolves the values available to tag templates. A value is
// absent (not in the map) when its input is missing.
func templateVars(opts Options) map[string]string {
	vars := map[string]string{}

	if opts.Version != "" {
		v, err := semver.NewVersion(opts.Version)
		if err != nil {
			// Non-semver versions still serve {version}.
			vars["{version}"] = strings.TrimPrefix(opts.Version, "v")
		} else {
			vars["{version}"] = v.String()
			vars["{patch}"] = fmt.Sprintf("%d", v.Patch())
			if v.Prerelease() == "" {
				vars["{major}"] = fmt.Sprintf("%d", v.Major())
				vars["{minor}"] = fmt.Sprintf("%d", v.Minor())
			}
		}
	}

	if opts.Branch != "" {
		vars["{branch}"] = sanitizeTag(opts.Branch)
	}

	if sha := strings.TrimSpace(opts.Commit); sha != "" {
		if len(sha) > 7 {
			sha = sha[:7]
		}
		vars["{sha}"] = sha
		vars["{sha:.7}"] = sha
	}

	return vars
}

// placeholderRe finds {name} placeholders in a template.
var placeholderRe = regexp.MustCompile(`\{[a-z]+(?::\.7)?\}`)

// expandTemplate substitutes placeholders. It returns false when the
// template references a value that is not available.
func expandTemplate(tmpl string, vars map[string]string) (string, bool) {
	if tmpl == "" {
		return "", false
	}
	ok := true
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(p string) string {
		v, found := vars[p]
		if !found {
			ok = false
		}
		return v
	})
	return out, ok
}

// sanitizeTag replaces characters not allowed in Docker tags.
func sanitizeTag(s string) string {
	r := strings.NewReplacer(
		"/", "-",
		" ", "-",
	)
	return r.Replace(s)
}
