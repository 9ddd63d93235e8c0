package codec

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pipeline/internal/record"
)

type player struct {
	Name  string   `json:"name" yaml:"display_name"`
	Level int      `json:"level" yaml:"level"`
	Tags  []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

func TestBuilder_RegisterAndResolve(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Register("player", JSON[player]()))
	reg := b.Build()

	c, err := reg.Resolve("player")
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, []string{"player"}, reg.Types())
}

func TestBuilder_DuplicateCodec(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Register("player", JSON[player]()))

	err := b.Register("player", YAML[player]())
	assert.ErrorIs(t, err, ErrDuplicateCodec)
}

func TestRegistry_UnsupportedType(t *testing.T) {
	reg := NewBuilder().Build()

	_, err := reg.Resolve("ghost")
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = reg.Encode("ghost", player{})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	var nilReg *Registry
	_, err = nilReg.Resolve("player")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestRegistry_IsFrozenAfterBuild(t *testing.T) {
	b := NewBuilder()
	reg := b.Build()
	require.NoError(t, b.Register("player", JSON[player]()))

	_, err := reg.Resolve("player")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestJSON_RoundTrip(t *testing.T) {
	c := JSON[player]()
	in := player{Name: "Ann", Level: 3, Tags: []string{"x"}}

	doc, err := c.Encode(in)
	require.NoError(t, err)
	assert.Equal(t, "Ann", doc["name"])
	assert.Equal(t, json.Number("3"), doc["level"])

	out, err := c.Decode(doc)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	// pointers encode the same way
	doc2, err := c.Encode(&in)
	require.NoError(t, err)
	assert.Equal(t, doc, doc2)
}

func TestJSON_RejectsOtherTypes(t *testing.T) {
	_, err := JSON[player]().Encode("not a player")
	assert.Error(t, err)

	var nilPlayer *player
	_, err = JSON[player]().Encode(nilPlayer)
	assert.Error(t, err)
}

func TestYAML_UsesYAMLTags(t *testing.T) {
	c := YAML[player]()
	in := player{Name: "Ann", Level: 3}

	doc, err := c.Encode(in)
	require.NoError(t, err)
	assert.Equal(t, "Ann", doc["display_name"])

	out, err := c.Decode(doc)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDocument_PassThrough(t *testing.T) {
	c := Document()

	doc, err := c.Encode(map[string]any{"name": "Ann", "level": 3})
	require.NoError(t, err)
	assert.Equal(t, json.Number("3"), doc["level"])

	out, err := c.Decode(doc)
	require.NoError(t, err)
	assert.Equal(t, doc, out)

	_, err = c.Encode(42)
	assert.Error(t, err)
}

func TestFunc(t *testing.T) {
	errBoom := errors.New("boom")
	c := Func(
		func(v any) (record.Document, error) { return record.Document{"v": v}, nil },
		func(record.Document) (any, error) { return nil, errBoom },
	)

	reg := func() *Registry {
		b := NewBuilder()
		require.NoError(t, b.Register("thing", c))
		return b.Build()
	}()

	doc, err := reg.Encode("thing", "x")
	require.NoError(t, err)
	assert.Equal(t, "x", doc["v"])

	_, err = reg.Decode("thing", doc)
	assert.ErrorIs(t, err, errBoom)
}
