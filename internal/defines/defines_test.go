package defines_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/assetforge/assetforge/internal/config"
	"github.com/assetforge/assetforge/internal/defines"
)

func ptr[T any](v T) *T { return &v }

func TestApply(t *testing.T) {
	set, err := defines.Resolve(config.Defines{
		"process.env.NODE_ENV": {String: ptr("production")},
		"process.env":          {Raw: ptr("{}")},
		"process.env.GA":       {Env: ptr("GA")},
		"__DEV__":              {Bool: ptr(false)},
		"VERSION":              {Raw: ptr("42")},
	}, func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		note string
		src  string
		exp  string
	}{
		{note: "string is quoted", src: `if (process.env.NODE_ENV === "x") {}`, exp: `if ("production" === "x") {}`},
		{note: "bool", src: `if (__DEV__) log()`, exp: `if (false) log()`},
		{note: "raw", src: `v = VERSION;`, exp: `v = 42;`},
		{note: "unset env is undefined", src: `ga(process.env.GA)`, exp: `ga(undefined)`},
		{note: "longest token wins", src: `x = process.env`, exp: `x = {}`},
		{note: "identifier suffix untouched", src: `__DEV__X + VERSIONS`, exp: `__DEV__X + VERSIONS`},
		{note: "identifier prefix untouched", src: `my__DEV__ $VERSION`, exp: `my__DEV__ $VERSION`},
		{note: "member access untouched", src: `a.__DEV__`, exp: `a.__DEV__`},
		{note: "at start and end", src: `__DEV__`, exp: `false`},
		{note: "multiple", src: `[__DEV__,__DEV__]`, exp: `[false,false]`},
		{note: "nothing to do", src: `const a = 1`, exp: `const a = 1`},
		{note: "double quoted string untouched", src: `var m = "__DEV__"; __DEV__`, exp: `var m = "__DEV__"; false`},
		{note: "single quoted string untouched", src: `k = 'process.env.NODE_ENV'`, exp: `k = 'process.env.NODE_ENV'`},
		{note: "template literal untouched", src: "s = `VERSION ${VERSION} VERSION`", exp: "s = `VERSION ${42} VERSION`"},
		{note: "line comment untouched", src: "// __DEV__\n__DEV__", exp: "// __DEV__\nfalse"},
		{note: "block comment untouched", src: `/* VERSION */ VERSION`, exp: `/* VERSION */ 42`},
		{note: "regexp untouched", src: `x = /__DEV__/.test(s) / VERSION`, exp: `x = /__DEV__/.test(s) / 42`},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			if got := string(set.Apply([]byte(tc.src))); got != tc.exp {
				t.Fatalf("expected %q, got %q", tc.exp, got)
			}
		})
	}

	if diff := cmp.Diff([]string{"process.env.GA"}, set.Undefined()); diff != "" {
		t.Fatalf("undefined (-want,+got):\n%s", diff)
	}
}

func TestResolveEnv(t *testing.T) {
	set, err := defines.Resolve(config.DefaultDefines(), func(k string) (string, bool) {
		if k == "GA" {
			return `UA-"1"`, true
		}
		return "", false
	})
	if err != nil {
		t.Fatal(err)
	}

	if v, _ := set.Value("process.env.GA"); v != `"UA-\"1\""` {
		t.Fatalf("expected env value to be JSON quoted, got %s", v)
	}
	if len(set.Undefined()) != 0 {
		t.Fatalf("expected no undefined defines, got %v", set.Undefined())
	}

	exp := map[string]string{
		"process.env.NODE_ENV": `"production"`,
		"process.env.GA":       `"UA-\"1\""`,
		"__DEV__":              "false",
	}
	if diff := cmp.Diff(exp, set.Values()); diff != "" {
		t.Fatalf("values (-want,+got):\n%s", diff)
	}
}

func TestEmptyEnvIsNotUndefined(t *testing.T) {
	set, err := defines.Resolve(config.Defines{"GA": {Env: ptr("GA")}}, func(string) (string, bool) { return "", true })
	if err != nil {
		t.Fatal(err)
	}
	if got := string(set.Apply([]byte("GA"))); got != `""` {
		t.Fatalf("expected empty string literal, got %s", got)
	}
}
