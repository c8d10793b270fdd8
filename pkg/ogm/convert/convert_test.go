package convert

import (
	"math"
	"net/netip"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type level int16

type counter uint64

type point struct {
	X, Y int
}

// load replays stored properties through c the way the materializer does:
// keys in lexicographic order, one suffix at a time.
func load(t *testing.T, c Converter, typ reflect.Type, name string, props map[string]any) reflect.Value {
	t.Helper()
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	current := reflect.Value{}
	for _, k := range keys {
		suffix := ""
		if k != name {
			require.Greater(t, len(k), len(name))
			suffix = k[len(name)+1:]
		}
		v, err := c.FromStorage(current, suffix, props[k])
		require.NoError(t, err)
		current = v
	}
	if !current.IsValid() {
		return reflect.Zero(typ)
	}
	return current
}

func TestConverterForResolution(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		typ  reflect.Type
		want any
	}{
		{"int64 is native", reflect.TypeOf(int64(0)), nil},
		{"string is native", reflect.TypeOf(""), nil},
		{"int widens", reflect.TypeOf(0), &numberConverter{}},
		{"float32 widens", reflect.TypeOf(float32(0)), &numberConverter{}},
		{"named int16 uses underlying", reflect.TypeOf(level(0)), &namedConverter{}},
		{"uuid", reflect.TypeOf(uuid.UUID{}), &uuidConverter{}},
		{"time", reflect.TypeOf(time.Time{}), &timeConverter{}},
		{"bytes", reflect.TypeOf([]byte{}), &bytesConverter{}},
		{"slice", reflect.TypeOf([]string{}), &CollectionConverter{}},
		{"array", reflect.TypeOf([3]int{}), &ArrayConverter{}},
		{"map", reflect.TypeOf(map[string]int{}), &MapConverter{}},
		{"text capability", reflect.TypeOf(netip.Addr{}), &textConverter{}},
		{"pointer to native", reflect.TypeOf(new(string)), nil},
		{"pointer to widened", reflect.TypeOf(new(int)), &pointerConverter{}},
		{"plain struct", reflect.TypeOf(point{}), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := r.ConverterFor(tt.typ, Overrides{})
			if tt.want == nil {
				assert.Nil(t, c)
				return
			}
			assert.IsType(t, tt.want, c)
		})
	}
}

func TestOverridesWinAtEveryLayer(t *testing.T) {
	r := NewRegistry()
	stringly := Static(&textOnly{})
	o := Overrides{}.With(reflect.TypeOf(0), stringly)

	c := r.ConverterFor(reflect.TypeOf([]int{}), o)
	require.IsType(t, &CollectionConverter{}, c)
	assert.IsType(t, &textOnly{}, c.(*CollectionConverter).Elem())

	arr := r.ConverterFor(reflect.TypeOf([]int{}), Overrides{}.WithKind(reflect.Slice, ArrayFactory))
	assert.IsType(t, &ArrayConverter{}, arr)
}

type textOnly struct{}

func (textOnly) ToStorage(name string, value reflect.Value, out map[string]any) error {
	out[name] = "x"
	return nil
}

func (textOnly) FromStorage(reflect.Value, string, any) (reflect.Value, error) {
	return reflect.ValueOf(0), nil
}

func TestNumberNarrowing(t *testing.T) {
	r := NewRegistry()
	c := r.ConverterFor(reflect.TypeOf(int8(0)), Overrides{})

	out := map[string]any{}
	require.NoError(t, c.ToStorage("n", reflect.ValueOf(int8(-5)), out))
	assert.Equal(t, int64(-5), out["n"])

	v, err := c.FromStorage(reflect.Value{}, "", int64(-5))
	require.NoError(t, err)
	assert.Equal(t, int8(-5), v.Interface())

	_, err = c.FromStorage(reflect.Value{}, "", int64(300))
	assert.ErrorIs(t, err, ErrOverflow)
	assert.True(t, IsConversionError(err))
}

func TestNamedScalarConvertsBack(t *testing.T) {
	r := NewRegistry()
	c := r.ConverterFor(reflect.TypeOf(level(0)), Overrides{})

	out := map[string]any{}
	require.NoError(t, c.ToStorage("lvl", reflect.ValueOf(level(7)), out))
	assert.Equal(t, int64(7), out["lvl"])

	v, err := c.FromStorage(reflect.Value{}, "", int64(7))
	require.NoError(t, err)
	assert.Equal(t, level(7), v.Interface())
}

func TestTypeConverter(t *testing.T) {
	r := NewRegistry()
	r.RegisterType(reflect.TypeOf(point{}))
	c := r.ConverterFor(reflectTypeType, Overrides{})

	holder := reflect.New(reflectTypeType).Elem()
	holder.Set(reflect.ValueOf(reflect.TypeOf(point{})))

	out := map[string]any{}
	require.NoError(t, c.ToStorage("kind", holder, out))
	assert.Equal(t, "github|com/conduit-lang/ogm/pkg/ogm/convert|point", out["kind"])

	v, err := c.FromStorage(reflect.Value{}, "", out["kind"])
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeOf(point{}), v.Interface())

	holder.Set(reflect.ValueOf(reflect.TypeOf(0)))
	require.NoError(t, c.ToStorage("kind", holder, out))
	assert.Equal(t, "int", out["kind"])

	_, err = c.FromStorage(reflect.Value{}, "", "missing|Type")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestUUIDConverter(t *testing.T) {
	r := NewRegistry()
	c := r.ConverterFor(reflect.TypeOf(uuid.UUID{}), Overrides{})
	id := uuid.MustParse("8f14e45f-ceea-4e7a-a1b1-0b5c3f7c2a10")

	out := map[string]any{}
	require.NoError(t, c.ToStorage("ref", reflect.ValueOf(id), out))
	assert.Equal(t, id.String(), out["ref"])

	v, err := c.FromStorage(reflect.Value{}, "", out["ref"])
	require.NoError(t, err)
	assert.Equal(t, id, v.Interface())

	_, err = c.FromStorage(reflect.Value{}, "", "not-a-uuid")
	assert.Error(t, err)
}

func TestCollectionPadsAndPreservesOrder(t *testing.T) {
	r := NewRegistry()
	typ := reflect.TypeOf([]string{})
	c := r.ConverterFor(typ, Overrides{})

	in := make([]string, 12)
	for i := range in {
		in[i] = string(rune('a' + i))
	}

	out := map[string]any{}
	require.NoError(t, c.ToStorage("tags", reflect.ValueOf(in), out))
	assert.Len(t, out, 12)
	assert.Equal(t, "a", out["tags.00"])
	assert.Equal(t, "l", out["tags.11"])

	got := load(t, c, typ, "tags", out)
	assert.Equal(t, in, got.Interface())
}

func TestCollectionOfWidenedElements(t *testing.T) {
	r := NewRegistry()
	typ := reflect.TypeOf([]int{})
	c := r.ConverterFor(typ, Overrides{})

	out := map[string]any{}
	require.NoError(t, c.ToStorage("n", reflect.ValueOf([]int{3, 1, 2}), out))
	assert.Equal(t, map[string]any{"n.0": int64(3), "n.1": int64(1), "n.2": int64(2)}, out)

	assert.Equal(t, []int{3, 1, 2}, load(t, c, typ, "n", out).Interface())
}

func TestArrayConverter(t *testing.T) {
	r := NewRegistry()
	typ := reflect.TypeOf([3]int{})
	c := r.ConverterFor(typ, Overrides{})

	out := map[string]any{}
	require.NoError(t, c.ToStorage("grid", reflect.ValueOf([3]int{7, 8, 9}), out))
	assert.Equal(t, map[string]any{
		"grid.3/0": int64(7),
		"grid.3/1": int64(8),
		"grid.3/2": int64(9),
	}, out)

	assert.Equal(t, [3]int{7, 8, 9}, load(t, c, typ, "grid", out).Interface())

	_, err := c.FromStorage(reflect.Value{}, "3/5", int64(1))
	assert.ErrorIs(t, err, ErrMalformedKey)
	_, err = c.FromStorage(reflect.Value{}, "nosize", int64(1))
	assert.ErrorIs(t, err, ErrMalformedKey)
}

func TestSliceAsArrayOverride(t *testing.T) {
	r := NewRegistry()
	typ := reflect.TypeOf([]string{})
	c := r.ConverterFor(typ, Overrides{}.WithKind(reflect.Slice, ArrayFactory))

	out := map[string]any{}
	require.NoError(t, c.ToStorage("s", reflect.ValueOf([]string{"x", "y"}), out))
	assert.Equal(t, map[string]any{"s.2/0": "x", "s.2/1": "y"}, out)
	assert.Equal(t, []string{"x", "y"}, load(t, c, typ, "s", out).Interface())
}

func TestMapConverterNested(t *testing.T) {
	r := NewRegistry()
	typ := reflect.TypeOf(map[string][]int{})
	c := r.ConverterFor(typ, Overrides{})

	in := map[string][]int{"a": {1, 2}, "b": {3}}
	out := map[string]any{}
	require.NoError(t, c.ToStorage("m", reflect.ValueOf(in), out))
	assert.Equal(t, map[string]any{
		"m.a.0": int64(1),
		"m.a.1": int64(2),
		"m.b.0": int64(3),
	}, out)

	assert.Equal(t, in, load(t, c, typ, "m", out).Interface())
}

func TestMapWithIntKeys(t *testing.T) {
	r := NewRegistry()
	typ := reflect.TypeOf(map[int]string{})
	c := r.ConverterFor(typ, Overrides{})

	in := map[int]string{1: "one", 20: "twenty"}
	out := map[string]any{}
	require.NoError(t, c.ToStorage("m", reflect.ValueOf(in), out))
	assert.Equal(t, "twenty", out["m.20"])

	assert.Equal(t, in, load(t, c, typ, "m", out).Interface())
}

func TestMapKeysKeepSeparator(t *testing.T) {
	r := NewRegistry()
	typ := reflect.TypeOf(map[string]string{})
	c := r.ConverterFor(typ, Overrides{})

	in := map[string]string{"example.com": "1.2.3.4", "a.b.c": "x", "plain": "y"}
	out := map[string]any{}
	require.NoError(t, c.ToStorage("hosts", reflect.ValueOf(in), out))
	assert.Equal(t, "1.2.3.4", out["hosts.example.com"])

	assert.Equal(t, in, load(t, c, typ, "hosts", out).Interface())
}

func TestUnsignedOverflowOnStore(t *testing.T) {
	r := NewRegistry()

	c := r.ConverterFor(reflect.TypeOf(uint64(0)), Overrides{})
	out := map[string]any{}
	require.NoError(t, c.ToStorage("n", reflect.ValueOf(uint64(math.MaxInt64)), out))
	assert.Equal(t, int64(math.MaxInt64), out["n"])

	err := c.ToStorage("n", reflect.ValueOf(uint64(math.MaxUint64)), map[string]any{})
	assert.ErrorIs(t, err, ErrOverflow)
	assert.True(t, IsConversionError(err))

	c = r.ConverterFor(reflect.TypeOf([]uint64{}), Overrides{})
	err = c.ToStorage("ns", reflect.ValueOf([]uint64{1, math.MaxUint64}), map[string]any{})
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Plain(reflect.ValueOf(counter(math.MaxUint64)))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMapFromGroupedValue(t *testing.T) {
	r := NewRegistry()
	typ := reflect.TypeOf(map[string]int{})
	c := r.ConverterFor(typ, Overrides{})

	v, err := c.FromStorage(reflect.Value{}, "", map[string]any{"x": int64(1), "y": int64(2)})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"x": 1, "y": 2}, v.Interface())
}

func TestTextCapability(t *testing.T) {
	r := NewRegistry()
	typ := reflect.TypeOf(netip.Addr{})
	c := r.ConverterFor(typ, Overrides{})
	addr := netip.MustParseAddr("10.0.0.1")

	out := map[string]any{}
	require.NoError(t, c.ToStorage("ip", reflect.ValueOf(addr), out))
	assert.Equal(t, "10.0.0.1", out["ip"])

	v, err := c.FromStorage(reflect.Value{}, "", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, addr, v.Interface())
}

func TestAssign(t *testing.T) {
	v, err := Assign(reflect.TypeOf(""), []byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, "raw", v.Interface())

	v, err = Assign(reflect.TypeOf(new(int64)), int64(4))
	require.NoError(t, err)
	assert.Equal(t, int64(4), *v.Interface().(*int64))

	v, err = Assign(reflect.TypeOf([]int{}), []any{int64(1), int64(2)})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, v.Interface())

	_, err = Assign(reflect.TypeOf(0), 1.5)
	assert.ErrorIs(t, err, ErrUnsupportedValue)

	_, err = Assign(reflect.TypeOf(uint8(0)), int64(-1))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestSplitAndArrayKeys(t *testing.T) {
	head, rest := SplitKey("a.b.c")
	assert.Equal(t, "a", head)
	assert.Equal(t, "b.c", rest)

	head, rest = SplitKey("plain")
	assert.Equal(t, "plain", head)
	assert.Empty(t, rest)

	size, idx, err := ParseArrayKey(ArrayKey(4, 2))
	require.NoError(t, err)
	assert.Equal(t, 4, size)
	assert.Equal(t, 2, idx)
}
