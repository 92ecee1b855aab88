package task_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudsidekick/cato/engine/task"
)

const defaultParamsXML = `<parameters>
	<parameter required="true">
		<name>TARGET</name>
		<values><value>staging</value></values>
	</parameter>
	<parameter encrypt="true">
		<name>DB_PASS</name>
		<values><value>default-secret</value></values>
	</parameter>
</parameters>`

func TestParseParameterDoc(t *testing.T) {
	t.Run("Should decode parameters with their values", func(t *testing.T) {
		doc, err := task.ParseParameterDoc(defaultParamsXML)
		require.NoError(t, err)
		require.Len(t, doc.Parameters, 2)
		assert.Equal(t, "TARGET", doc.Parameters[0].Name)
		require.Len(t, doc.Parameters[0].Values.Value, 1)
		assert.Equal(t, "staging", doc.Parameters[0].Values.Value[0].Text)
	})
	t.Run("Should report the encrypt flag", func(t *testing.T) {
		doc, err := task.ParseParameterDoc(defaultParamsXML)
		require.NoError(t, err)
		assert.False(t, doc.Parameters[0].Encrypt())
		assert.True(t, doc.Parameters[1].Encrypt())
	})
	t.Run("Should reject malformed documents", func(t *testing.T) {
		_, err := task.ParseParameterDoc("<parameters><parameter>")
		require.Error(t, err)
	})
}

func TestMergeParameters(t *testing.T) {
	t.Run("Should replace a parameter's whole value set", func(t *testing.T) {
		override := `<parameters><parameter><name>target</name>
			<values><value>prod-a</value><value>prod-b</value></values></parameter></parameters>`
		merged, err := task.MergeParameters(defaultParamsXML, override)
		require.NoError(t, err)
		doc, err := task.ParseParameterDoc(merged)
		require.NoError(t, err)
		var target *task.Parameter
		for i := range doc.Parameters {
			if doc.Parameters[i].Name == "TARGET" {
				target = &doc.Parameters[i]
			}
		}
		require.NotNil(t, target)
		require.Len(t, target.Values.Value, 2)
		assert.Equal(t, "prod-a", target.Values.Value[0].Text)
	})
	t.Run("Should keep untouched defaults", func(t *testing.T) {
		override := `<parameters><parameter><name>TARGET</name>
			<values><value>prod</value></values></parameter></parameters>`
		merged, err := task.MergeParameters(defaultParamsXML, override)
		require.NoError(t, err)
		doc, err := task.ParseParameterDoc(merged)
		require.NoError(t, err)
		require.Len(t, doc.Parameters, 2)
		assert.Equal(t, "default-secret", doc.Parameters[1].Values.Value[0].Text)
	})
	t.Run("Should append parameters the defaults never mention", func(t *testing.T) {
		override := `<parameters><parameter><name>EXTRA</name>
			<values><value>42</value></values></parameter></parameters>`
		merged, err := task.MergeParameters(defaultParamsXML, override)
		require.NoError(t, err)
		doc, err := task.ParseParameterDoc(merged)
		require.NoError(t, err)
		assert.Len(t, doc.Parameters, 3)
	})
	t.Run("Should pass either side through when the other is empty", func(t *testing.T) {
		merged, err := task.MergeParameters(defaultParamsXML, "")
		require.NoError(t, err)
		assert.Equal(t, defaultParamsXML, merged)
		merged, err = task.MergeParameters("", "<parameters/>")
		require.NoError(t, err)
		assert.Equal(t, "<parameters/>", merged)
	})
}
