package filter

import (
	"strings"
	"testing"

	appErr "codejudge/pkg/errors"
)

func TestCheckAllowsListedImports(t *testing.T) {
	t.Parallel()
	f := New(nil)
	sources := []string{
		"import java.util.List; public class Main {}",
		"public class Main { public static void main(String[] a) {} }",
		"import   \n\tjava.util.Map;\nimport java.io.BufferedReader;\nimport java.math.BigInteger;",
		"import java.lang.StringBuilder;",
	}
	for _, src := range sources {
		if err := f.Check(src); err != nil {
			t.Fatalf("Check(%q) = %v, want nil", src, err)
		}
	}
}

func TestCheckRejectsUnlistedImport(t *testing.T) {
	t.Parallel()
	err := New(nil).Check("import java.net.Socket; public class Main {}")
	if err == nil {
		t.Fatalf("expected rejection")
	}
	if !strings.Contains(err.Error(), "java.net.Socket") {
		t.Fatalf("error %q does not name the import", err.Error())
	}
	if err.Error() != "Illegal Library Imported: import java.net.Socket;" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if appErr.GetCode(err) != appErr.ImportRejected {
		t.Fatalf("code = %v, want ImportRejected", appErr.GetCode(err))
	}
}

func TestCheckReportsFirstViolation(t *testing.T) {
	t.Parallel()
	src := "import java.util.*;\nimport java.io.File;\nimport java.net.Socket;\n"
	err := New(nil).Check(src)
	if err == nil {
		t.Fatalf("expected rejection")
	}
	if err.Error() != "Illegal Library Imported: import java.io.File;" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestCheckStatementWithoutSemicolon(t *testing.T) {
	t.Parallel()
	err := New(nil).Check("import java.lang.reflect.Method")
	if err == nil {
		t.Fatalf("expected rejection")
	}
	if err.Error() != "Illegal Library Imported: import java.lang.reflect.Method" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestCheckMatchesInsideStringLiterals(t *testing.T) {
	t.Parallel()
	src := `public class Main { String s = "import java.nio.file.Files;"; }`
	if err := New(nil).Check(src); err == nil {
		t.Fatalf("textual scan should reject imports inside literals")
	}
}

func TestCheckCustomAllowlist(t *testing.T) {
	t.Parallel()
	f := New([]string{" java.util.Scanner ", ""})
	if err := f.Check("import java.util.Scanner;"); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	if err := f.Check("import java.util.List;"); err == nil {
		t.Fatalf("expected rejection outside the custom allowlist")
	}
	if got := f.Allowlist(); len(got) != 1 || got[0] != "java.util.Scanner" {
		t.Fatalf("allowlist = %v", got)
	}
}

func TestSkipComments(t *testing.T) {
	t.Parallel()
	commented := "// import java.net.Socket;\n/* import java.io.File; */\nimport java.util.List;"
	if err := New(nil).Check(commented); err == nil {
		t.Fatalf("textual mode should reject commented imports")
	}

	f := New(nil, WithSkipComments(true))
	cases := []struct {
		name   string
		src    string
		reject bool
	}{
		{name: "comments ignored", src: commented},
		{name: "comment marker inside string", src: `String s = "// x"; import java.net.Socket;`, reject: true},
		{name: "string contents still scanned", src: `String s = "import java.net.Socket;";`, reject: true},
		{name: "unicode escape disables stripping", src: "// \\u000a import java.net.Socket;", reject: true},
		{name: "text block hides comment opener", src: "String s = \"\"\"\n/*\n\"\"\"; import java.net.Socket; String t = \"*/\";", reject: true},
		{name: "char literal quote", src: "char c = '\"'; // import java.net.Socket;\nimport java.util.Map;"},
	}
	for _, tc := range cases {
		err := f.Check(tc.src)
		if tc.reject && err == nil {
			t.Fatalf("%s: expected rejection", tc.name)
		}
		if !tc.reject && err != nil {
			t.Fatalf("%s: unexpected rejection: %v", tc.name, err)
		}
	}
}
