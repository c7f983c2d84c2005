package eval

import (
	"strconv"

	"github.com/orkestr8/statemachine/lang/ast"
)

func zeroValue(k ast.Kind) ast.Value {
	return ast.Value{Kind: k}
}

func promote(a, b ast.Value) ast.Kind {
	switch {
	case a.Kind == ast.KindString || b.Kind == ast.KindString:
		return ast.KindString
	case a.Kind == ast.KindFloat || b.Kind == ast.KindFloat:
		return ast.KindFloat
	case a.Kind == ast.KindInt || b.Kind == ast.KindInt:
		return ast.KindInt
	default:
		return ast.KindShort
	}
}

func asFloat(v ast.Value) float64 {
	switch v.Kind {
	case ast.KindFloat:
		return v.Flt
	case ast.KindInt:
		return float64(v.Int)
	case ast.KindShort:
		return float64(v.Sh)
	case ast.KindString:
		f, _ := strconv.ParseFloat(v.Str, 64)
		return f
	default:
		return 0
	}
}

func asInt(v ast.Value) int64 {
	switch v.Kind {
	case ast.KindInt:
		return v.Int
	case ast.KindShort:
		return int64(v.Sh)
	case ast.KindFloat:
		return int64(v.Flt)
	case ast.KindString:
		n, _ := strconv.ParseInt(v.Str, 0, 64)
		return n
	default:
		return 0
	}
}

func stringOf(v ast.Value) string {
	switch v.Kind {
	case ast.KindString:
		return v.Str
	case ast.KindInt:
		return strconv.FormatInt(v.Int, 10)
	case ast.KindShort:
		return strconv.FormatInt(int64(v.Sh), 10)
	case ast.KindFloat:
		return strconv.FormatFloat(v.Flt, 'g', -1, 64)
	default:
		return ""
	}
}

func numeric(k ast.Kind, f float64, i int64) ast.Value {
	switch k {
	case ast.KindFloat:
		return ast.Value{Kind: ast.KindFloat, Flt: f}
	case ast.KindShort:
		return ast.Value{Kind: ast.KindShort, Sh: int16(i)}
	default:
		return ast.Value{Kind: ast.KindInt, Int: i}
	}
}

func intValue(i int64) ast.Value { return ast.Value{Kind: ast.KindInt, Int: i} }

func boolValue(b bool) ast.Value {
	if b {
		return ast.Value{Kind: ast.KindInt, Int: 1}
	}
	return ast.Value{Kind: ast.KindInt, Int: 0}
}

func compareValues(a, b ast.Value) int {
	if a.Kind == ast.KindString || b.Kind == ast.KindString {
		as, bs := stringOf(a), stringOf(b)
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}
	af, bf := asFloat(a), asFloat(b)
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return 0
	}
}

func equalValues(a, b ast.Value) bool { return compareValues(a, b) == 0 }

func cast(v ast.Value, op ast.Op) ast.Value {
	switch op {
	case ast.OpToFloat:
		return ast.Value{Kind: ast.KindFloat, Flt: asFloat(v)}
	case ast.OpToInt:
		return ast.Value{Kind: ast.KindInt, Int: asInt(v)}
	case ast.OpToShort:
		return ast.Value{Kind: ast.KindShort, Sh: int16(asInt(v))}
	case ast.OpToString:
		return ast.Value{Kind: ast.KindString, Str: stringOf(v)}
	default:
		return v
	}
}
