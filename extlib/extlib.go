// Package extlib classifies external library functions by name into the
// constraint patterns the collector knows how to emit. The built-in table
// covers the usual libc surface and the LLVM memory intrinsics; callers can
// extend or override it from a YAML document.
package extlib

import (
	"fmt"
	"strings"

	"sigs.k8s.io/yaml"
)

// Kind is the constraint pattern of a summarised function.
type Kind int

const (
	// Noop functions induce no points-to constraints.
	Noop Kind = iota
	// Alloc functions return a fresh memory object.
	Alloc
	// AllocIndirect functions store a fresh memory object through their
	// first argument (posix_memalign).
	AllocIndirect
	// Realloc functions allocate when their first argument is not a null
	// constant and return it otherwise.
	Realloc
	// RetArg functions return their Arg-th argument.
	RetArg
	// Memcpy functions copy the memory their second argument points to
	// into the first and return the first.
	Memcpy
	// Convert functions (the strto* family) store their second argument
	// through their first when the second is not a null constant.
	Convert
	// VAStart is llvm.va_start: the argument ends up pointing at the
	// enclosing function's vararg pack.
	VAStart
)

// Summary is the classification of a single function name.
type Summary struct {
	Kind Kind
	// Arg is the returned argument's index for RetArg summaries.
	Arg int
}

// Table maps callee names to summaries. The zero Table knows nothing; use
// DefaultTable for the built-in classification.
type Table struct {
	names    map[string]Summary
	prefixes []prefixRule
}

type prefixRule struct {
	prefix  string
	summary Summary
}

// Lookup classifies name. The second result is false for names the table
// knows nothing about, so the caller can escalate to its pollute path.
func (t *Table) Lookup(name string) (Summary, bool) {
	if s, ok := t.names[name]; ok {
		return s, true
	}
	for _, r := range t.prefixes {
		if strings.HasPrefix(name, r.prefix) {
			return r.summary, true
		}
	}
	return Summary{}, false
}

func (t *Table) add(kind Kind, arg int, names ...string) {
	if t.names == nil {
		t.names = make(map[string]Summary)
	}
	for _, n := range names {
		t.names[n] = Summary{Kind: kind, Arg: arg}
	}
}

func (t *Table) addPrefix(kind Kind, prefixes ...string) {
	for _, p := range prefixes {
		t.prefixes = append(t.prefixes, prefixRule{prefix: p, summary: Summary{Kind: kind}})
	}
}

// tableConfig is the YAML shape accepted by MergeYAML.
type tableConfig struct {
	Noop          []string       `json:"noop"`
	NoopPrefixes  []string       `json:"noopPrefixes"`
	Alloc         []string       `json:"alloc"`
	AllocIndirect []string       `json:"allocIndirect"`
	Realloc       []string       `json:"realloc"`
	RetArg        map[string]int `json:"retArg"`
	Memcpy        []string       `json:"memcpy"`
	Convert       []string       `json:"convert"`
}

// MergeYAML extends the table from a YAML document; entries for known names
// replace the existing classification.
func (t *Table) MergeYAML(data []byte) error {
	var cfg tableConfig
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return fmt.Errorf("parsing summary table: %w", err)
	}

	t.add(Noop, 0, cfg.Noop...)
	t.addPrefix(Noop, cfg.NoopPrefixes...)
	t.add(Alloc, 0, cfg.Alloc...)
	t.add(AllocIndirect, 0, cfg.AllocIndirect...)
	t.add(Realloc, 0, cfg.Realloc...)
	for name, arg := range cfg.RetArg {
		t.add(RetArg, arg, name)
	}
	t.add(Memcpy, 0, cfg.Memcpy...)
	t.add(Convert, 0, cfg.Convert...)
	return nil
}

// DefaultTable returns the built-in classification.
func DefaultTable() *Table {
	t := new(Table)

	t.add(Noop, 0,
		"log", "log10", "exp", "exp2", "exp10", "strcmp", "strncmp", "strlen",
		"atoi", "atof", "atol", "atoll", "remove", "unlink", "rename",
		"memcmp", "free", "execl", "execlp", "execle", "execv", "execvp",
		"chmod", "puts", "write", "open", "create", "truncate", "chdir",
		"mkdir", "rmdir", "read", "pipe", "wait", "time", "stat", "fstat",
		"lstat", "fopen", "fdopen", "fflush", "feof", "fileno", "clearerr",
		"rewind", "ftell", "ferror", "fgetc", "_IO_getc", "fwrite", "fread",
		"ungetc", "fputc", "fputs", "putc", "_IO_putc", "fseek", "fgetpos",
		"fsetpos", "printf", "fprintf", "sprintf", "vprintf", "vfprintf",
		"vsprintf", "scanf", "fscanf", "sscanf", "__assert_fail", "modf",
		"putchar", "isalnum", "isalpha", "isascii", "isatty", "isblank",
		"iscntrl", "isdigit", "isgraph", "islower", "isprint", "ispunct",
		"isspace", "isupper", "iswalnum", "iswalpha", "iswctype", "iswdigit",
		"iswlower", "iswspace", "iswprint", "iswupper", "sin", "cos", "sinf",
		"cosf", "asin", "acos", "tan", "atan", "fabs", "pow", "floor",
		"ceil", "sqrt", "sqrtf", "hypot", "random", "tolower", "toupper",
		"towlower", "towupper", "system", "clock", "exit", "abort",
		"gettimeofday", "settimeofday", "rand", "rand_r", "srand", "seed48",
		"drand48", "lrand48", "srand48", "_ZdlPv", "_ZdaPv", "memset",
		"fesetround", "fegetround", "fetestexcept", "feraiseexcept",
		"feclearexcept", "llvm.va_end",
	)
	t.addPrefix(Noop,
		"llvm.dbg.", "llvm.lifetime.", "llvm.memset.", "llvm.bswap.",
		"llvm.ctlz.", "llvm.stackrestore", "llvm.stacksave",
		"llvm.expect.", "llvm.assume",
	)

	t.add(Alloc, 0,
		"malloc", "calloc", "valloc", "memalign", "aligned_alloc",
		"strdup", "strndup", "getenv",
		"_Znwj", "_ZnwjRKSt9nothrow_t", "_Znwm", "_ZnwmRKSt9nothrow_t",
		"_Znaj", "_ZnajRKSt9nothrow_t", "_Znam", "_ZnamRKSt9nothrow_t",
	)
	t.add(AllocIndirect, 0, "posix_memalign")
	t.add(Realloc, 0, "realloc")

	t.add(RetArg, 0,
		"fgets", "gets", "stpcpy", "strcat", "strchr", "strcpy",
		"strerror_r", "strncat", "strncpy", "strpbrk", "strptime",
		"strrchr", "strstr", "strtok", "strtok_r",
	)
	t.add(RetArg, 2, "freopen")

	t.add(Memcpy, 0, "memcpy", "memccpy", "memmove", "bcopy")
	t.addPrefix(Memcpy, "llvm.memcpy.", "llvm.memmove.")

	t.add(Convert, 0,
		"strtod", "strtof", "strtol", "strtold", "strtoll", "strtoul",
		"strtoull",
	)

	t.add(VAStart, 0, "llvm.va_start")

	return t
}
