package tokens

// vocabulary holds token counts for terms that show up constantly in compiler
// and build output. Counts were measured against BPE tokenizers and rounded up.
var vocabulary = map[string]int{
	// severities and statuses
	"error":                 1,
	"errors":                1,
	"warning":               1,
	"warnings":              1,
	"note":                  1,
	"help":                  1,
	"info":                  1,
	"fatal":                 1,
	"waiting":               1,
	"building":              1,
	"success":               1,
	"success_with_warnings": 4,
	"failed":                1,
	"interrupted":           2,
	"completed":             1,

	// compiler vocabulary
	"unbound":     2,
	"module":      1,
	"modules":     1,
	"mismatch":    2,
	"mismatched":  2,
	"expected":    1,
	"found":       1,
	"type":        1,
	"types":       1,
	"value":       1,
	"variable":    2,
	"function":    1,
	"method":      1,
	"field":       1,
	"struct":      1,
	"trait":       1,
	"interface":   1,
	"import":      1,
	"imported":    2,
	"package":     1,
	"declared":    1,
	"undefined":   2,
	"unused":      2,
	"unresolved":  2,
	"unreachable": 2,
	"deprecated":  2,
	"syntax":      1,
	"unexpected":  2,
	"token":       1,
	"identifier":  2,
	"argument":    1,
	"arguments":   2,
	"return":      1,
	"returns":     1,
	"signature":   2,
	"lifetime":    2,
	"borrow":      1,
	"borrowed":    2,
	"mutable":     2,
	"reference":   1,
	"pointer":     1,
	"overflow":    2,
	"implicit":    2,
	"conversion":  2,
	"missing":     1,
	"semicolon":   2,
	"scope":       1,
	"constraint":  2,
	"timing":      1,
	"diagnostics": 2,
	"budget":      1,
	"response":    1,
	"limited":     1,
	"showing":     1,
	"reserved":    1,
	"metadata":    2,

	// phrases matched as a whole input
	"cannot be":                 2,
	"cannot find":               2,
	"not found":                 2,
	"not found in scope":        4,
	"mismatched types":          3,
	"unused variable":           3,
	"unused import":             3,
	"use of moved value":        4,
	"expected expression":       2,
	"undeclared name":           3,
	"no such file":              3,
	"is never used":             3,
	"has no field":              3,
	"does not live long enough": 5,
}

func lookup(s string) (int, bool) {
	n, ok := vocabulary[s]
	return n, ok
}
