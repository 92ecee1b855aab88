package task_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudsidekick/cato/engine/task"
)

func TestTask_Codeblock(t *testing.T) {
	tk := &task.Task{}
	tk.AddStep(&task.Step{ID: "s1", Codeblock: "MAIN", Order: 2, Function: "log_msg", FunctionXML: `<function name="log_msg"/>`})
	tk.AddStep(&task.Step{ID: "s2", Codeblock: "MAIN", Order: 1, Function: "log_msg", FunctionXML: `<function name="log_msg"/>`})
	tk.AddStep(&task.Step{ID: "s3", Codeblock: "Cleanup", Order: 1, Function: "end", FunctionXML: `<function name="end"/>`})

	t.Run("Should look up codeblocks case-insensitively", func(t *testing.T) {
		cb, ok := tk.Codeblock("main")
		require.True(t, ok)
		assert.Len(t, cb.Steps, 2)
		_, ok = tk.Codeblock("CLEANUP")
		assert.True(t, ok)
	})
	t.Run("Should keep steps in ascending order", func(t *testing.T) {
		cb, ok := tk.Codeblock("MAIN")
		require.True(t, ok)
		assert.Equal(t, "s2", cb.Steps[0].ID)
		assert.Equal(t, "s1", cb.Steps[1].ID)
	})
	t.Run("Should report an unknown codeblock", func(t *testing.T) {
		_, ok := tk.Codeblock("nope")
		assert.False(t, ok)
	})
}

func TestStep_Parse(t *testing.T) {
	t.Run("Should parse the function document and read parameters", func(t *testing.T) {
		st := &task.Step{ID: "s1", FunctionXML: `<function name="sleep"><seconds>5</seconds></function>`}
		require.NoError(t, st.Parse())
		assert.Equal(t, "sleep", st.Function)
		assert.Equal(t, "5", st.Param("seconds"))
	})
	t.Run("Should name the step in a parse error", func(t *testing.T) {
		st := &task.Step{ID: "bad-step", FunctionXML: `<nope/>`}
		err := st.Parse()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad-step")
	})
	t.Run("Should report a missing required parameter descriptively", func(t *testing.T) {
		st := &task.Step{ID: "s1", Function: "sleep", FunctionXML: `<function name="sleep"/>`}
		_, err := st.RequiredParam("seconds")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "seconds")
		assert.Contains(t, err.Error(), "s1")
	})
	t.Run("Should extract embedded function documents in order", func(t *testing.T) {
		st := &task.Step{ID: "s1", FunctionXML: `<function name="while" test="true">
			<action>
				<function name="log_msg"><message>one</message></function>
				<function name="sleep"><seconds>1</seconds></function>
			</action>
		</function>`}
		subs, err := st.EmbeddedFunctions("action")
		require.NoError(t, err)
		require.Len(t, subs, 2)
		assert.Equal(t, "log_msg", subs[0].Function)
		assert.Equal(t, "sleep", subs[1].Function)
	})
}

func TestParseIf(t *testing.T) {
	t.Run("Should collect tests with their guarded steps", func(t *testing.T) {
		st := &task.Step{ID: "s1", Function: "if", FunctionXML: `<function name="if">
			<tests>
				<test eval="1 == 2"><action><function name="log_msg"><message>a</message></function></action></test>
				<test eval="2 == 2"><action><function name="log_msg"><message>b</message></function></action></test>
			</tests>
			<else><function name="log_msg"><message>c</message></function></else>
		</function>`}
		p, err := task.ParseIf(st)
		require.NoError(t, err)
		require.Len(t, p.Tests, 2)
		assert.Equal(t, "1 == 2", p.Tests[0].Eval)
		require.Len(t, p.Tests[1].Steps, 1)
		require.NotNil(t, p.Else)
		assert.Len(t, p.Else, 1)
	})
	t.Run("Should leave Else nil when absent", func(t *testing.T) {
		st := &task.Step{ID: "s1", Function: "if", FunctionXML: `<function name="if">
			<tests><test eval="true"><action/></test></tests>
		</function>`}
		p, err := task.ParseIf(st)
		require.NoError(t, err)
		assert.Nil(t, p.Else)
	})
	t.Run("Should reject a test without an expression", func(t *testing.T) {
		st := &task.Step{ID: "s1", Function: "if", FunctionXML: `<function name="if">
			<tests><test><action/></test></tests>
		</function>`}
		_, err := task.ParseIf(st)
		require.Error(t, err)
	})
}

func TestParseLoop(t *testing.T) {
	t.Run("Should read all loop fields", func(t *testing.T) {
		st := &task.Step{ID: "s1", Function: "loop", FunctionXML: `<function name="loop">
			<counter>I</counter><start>1</start><increment>1</increment>
			<test>&lt;=</test><compare_to>3</compare_to>
			<action><function name="log_msg"><message>x</message></function></action>
		</function>`}
		p, err := task.ParseLoop(st)
		require.NoError(t, err)
		assert.Equal(t, "I", p.Counter)
		assert.Equal(t, "1", p.Start)
		assert.Equal(t, "<=", p.Test)
		assert.Equal(t, "3", p.CompareTo)
		assert.Len(t, p.Body, 1)
	})
	t.Run("Should require a counter name", func(t *testing.T) {
		st := &task.Step{ID: "s1", Function: "loop", FunctionXML: `<function name="loop"><test>==</test></function>`}
		_, err := task.ParseLoop(st)
		require.Error(t, err)
	})
}

func TestParseExists(t *testing.T) {
	t.Run("Should collect checks with their refinements", func(t *testing.T) {
		st := &task.Step{ID: "s1", Function: "exists", FunctionXML: `<function name="exists">
			<variables>
				<variable name="A"/>
				<variable name="B" is_true="1"/>
				<variable name="C" has_data="1"/>
			</variables>
			<actions>
				<positive_action><function name="log_msg"><message>yes</message></function></positive_action>
				<negative_action><function name="log_msg"><message>no</message></function></negative_action>
			</actions>
		</function>`}
		p, err := task.ParseExists(st)
		require.NoError(t, err)
		require.Len(t, p.Checks, 3)
		assert.False(t, p.Checks[0].IsTrue)
		assert.True(t, p.Checks[1].IsTrue)
		assert.True(t, p.Checks[2].HasData)
		assert.Len(t, p.Positive, 1)
		assert.Len(t, p.Negative, 1)
	})
	t.Run("Should require at least one variable", func(t *testing.T) {
		st := &task.Step{ID: "s1", Function: "exists", FunctionXML: `<function name="exists"><variables/></function>`}
		_, err := task.ParseExists(st)
		require.Error(t, err)
	})
}

func TestParseSetVariable(t *testing.T) {
	t.Run("Should read name, value, and modifier per item", func(t *testing.T) {
		st := &task.Step{ID: "s1", Function: "set_variable", FunctionXML: `<function name="set_variable">
			<variables>
				<variable><name>A</name><value>hello</value></variable>
				<variable><name>B</name><value>world</value><modifier>TO_UPPER</modifier></variable>
			</variables>
		</function>`}
		items, err := task.ParseSetVariable(st)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "A", items[0].Name)
		assert.Equal(t, "hello", items[0].Value)
		assert.Equal(t, "TO_UPPER", items[1].Modifier)
	})
	t.Run("Should reject an item without a name", func(t *testing.T) {
		st := &task.Step{ID: "s1", Function: "set_variable", FunctionXML: `<function name="set_variable">
			<variables><variable><value>x</value></variable></variables>
		</function>`}
		_, err := task.ParseSetVariable(st)
		require.Error(t, err)
	})
}
