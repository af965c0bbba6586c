package contracts

import (
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_JSON(t *testing.T) {
	tests := []struct {
		name string
		data string
		want time.Duration
	}{
		{"string", `{"task_id":"a","timeout":"90s"}`, 90 * time.Second},
		{"compound", `{"task_id":"a","timeout":"1m30s"}`, 90 * time.Second},
		{"nanoseconds", `{"task_id":"a","timeout":90000000000}`, 90 * time.Second},
		{"numeric string", `{"task_id":"a","timeout":"1000"}`, time.Microsecond},
		{"absent", `{"task_id":"a"}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var spec TaskSpec
			require.NoError(t, sonic.ConfigStd.UnmarshalFromString(tt.data, &spec))
			assert.Equal(t, tt.want, spec.Timeout.Std())
		})
	}
}

func TestDuration_JSONInvalid(t *testing.T) {
	var spec TaskSpec
	assert.Error(t, sonic.ConfigStd.UnmarshalFromString(`{"timeout":"soon"}`, &spec))
	assert.Error(t, sonic.ConfigStd.UnmarshalFromString(`{"timeout":true}`, &spec))
}

func TestDuration_EncodesAsString(t *testing.T) {
	out, err := sonic.ConfigStd.MarshalToString(JobSettings{Timeouts: map[TaskID]Duration{"doc": Duration(time.Minute)}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"timeouts":{"doc":"1m0s"}}`, out)

	out, err = sonic.ConfigStd.MarshalToString(TaskSpec{TaskID: "a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"task_id":"a"}`, out)
}

func TestDuration_YAML(t *testing.T) {
	var settings JobSettings
	require.NoError(t, yaml.Unmarshal([]byte("timeouts:\n  doc: 2m\n  pdf: 45s\n"), &settings))
	assert.Equal(t, Duration(2*time.Minute), settings.Timeouts["doc"])
	assert.Equal(t, Duration(45*time.Second), settings.Timeouts["pdf"])

	out, err := yaml.Marshal(TaskSpec{TaskID: "a", Timeout: Duration(90 * time.Second)})
	require.NoError(t, err)
	assert.Contains(t, string(out), "timeout: 1m30s")
}
