package plugin

import (
	"testing"

	"github.com/bedrockdb/bedrock/core"
	"github.com/bedrockdb/bedrock/database"
	"github.com/stretchr/testify/require"
)

type stubPlugin struct {
	BasePlugin
	name string
}

func (s stubPlugin) Name() string { return s.name }
func (s stubPlugin) Peek(database.Database, *core.Command) (bool, error) {
	return false, nil
}
func (s stubPlugin) Process(database.Tx, *core.Command) (bool, error) {
	return false, nil
}

func TestRegistry_FreezeInstantiatesInRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("b", func(NodeRef) Plugin { return stubPlugin{name: "b"} }))
	require.NoError(t, r.Register("a", func(NodeRef) Plugin { return stubPlugin{name: "a"} }))

	require.NoError(t, r.Freeze(nil))
	instances := r.Instances()
	require.Len(t, instances, 2)
	require.Equal(t, "b", instances[0].Name())
	require.Equal(t, "a", instances[1].Name())
}

func TestRegistry_RegisterAfterFreezeFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Freeze(nil))
	err := r.Register("late", func(NodeRef) Plugin { return stubPlugin{name: "late"} })
	require.Error(t, err)
}

func TestRegistry_DuplicateNameFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("dup", func(NodeRef) Plugin { return stubPlugin{name: "dup"} }))
	err := r.Register("dup", func(NodeRef) Plugin { return stubPlugin{name: "dup"} })
	require.Error(t, err)
}

func TestRegistry_ByName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("only", func(NodeRef) Plugin { return stubPlugin{name: "only"} }))
	require.NoError(t, r.Freeze(nil))

	p, ok := r.ByName("only")
	require.True(t, ok)
	require.Equal(t, "only", p.Name())

	_, ok = r.ByName("missing")
	require.False(t, ok)
}

func TestAbortError_StatusLineAndUnwrap(t *testing.T) {
	cause := core.ErrConflict
	err := &AbortError{Code: 402, Message: "Missing userID", Cause: cause}
	require.Equal(t, "402 Missing userID", err.StatusLine())
	require.ErrorIs(t, err, cause)
}

func TestVerifyAttributeInt64(t *testing.T) {
	values := map[string]string{"count": "42", "bad": "nope"}

	n, abortErr := VerifyAttributeInt64(values, "count")
	require.Nil(t, abortErr)
	require.Equal(t, int64(42), n)

	_, abortErr = VerifyAttributeInt64(values, "bad")
	require.NotNil(t, abortErr)
	require.Equal(t, "402 Invalid bad", abortErr.StatusLine())

	_, abortErr = VerifyAttributeInt64(values, "missing")
	require.NotNil(t, abortErr)
	require.Equal(t, "402 Missing missing", abortErr.StatusLine())
}
