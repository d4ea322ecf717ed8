package runner

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/modelops/gpusched/pkg/bus"
)

func testLaunchConfig() LaunchConfig {
	return LaunchConfig{
		Namespace:        "gpusched-system",
		Image:            "registry.local/gpu-executor:latest",
		NodeSelector:     map[string]string{"nvidia.com/device-plugin.config": "tesla-t4"},
		GPUResourceName:  "nvidia.com/gpu",
		GPUResourceCount: "1",
		TTLSeconds:       120,
		BaseEnv:          map[string]string{"GPUSCHED_DEBUG_CONFIG_PATH": "/etc/config/config.yaml"},
	}
}

func TestLaunchCreatesBatchJob(t *testing.T) {
	client := fake.NewSimpleClientset()
	l := NewKubeLauncher(client, testLaunchConfig())

	evt := bus.DispatchEvent{
		JobID:         "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		DispatchToken: "f47ac10b-58cc-4372-a567-0e02b2c3d479",
	}
	require.NoError(t, l.Launch(context.Background(), evt))

	jobs, err := client.BatchV1().Jobs("gpusched-system").List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	require.Len(t, jobs.Items, 1)

	job := jobs.Items[0]
	assert.Equal(t, "gpu-exec-6ba7b810-f47ac10b", job.Name)
	require.Len(t, job.Spec.Template.Spec.Containers, 1)

	env := map[string]string{}
	for _, e := range job.Spec.Template.Spec.Containers[0].Env {
		env[e.Name] = e.Value
	}
	assert.Equal(t, evt.JobID, env["JOB_ID"])
	assert.Equal(t, evt.DispatchToken, env["DISPATCH_TOKEN"])
	assert.Equal(t, "/etc/config/config.yaml", env["GPUSCHED_DEBUG_CONFIG_PATH"])

	gpu := job.Spec.Template.Spec.Containers[0].Resources.Limits["nvidia.com/gpu"]
	assert.Equal(t, "1", gpu.String())
}

func TestLaunchToleratesRedelivery(t *testing.T) {
	client := fake.NewSimpleClientset()
	l := NewKubeLauncher(client, testLaunchConfig())

	evt := bus.DispatchEvent{
		JobID:         "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		DispatchToken: "f47ac10b-58cc-4372-a567-0e02b2c3d479",
	}
	require.NoError(t, l.Launch(context.Background(), evt))
	// Same dispatch again: the unit already exists, still not an error.
	require.NoError(t, l.Launch(context.Background(), evt))

	jobs, err := client.BatchV1().Jobs("gpusched-system").List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, jobs.Items, 1)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "gpu-exec-abc-123", safeName("GPU-exec_abc__123"))
	assert.Equal(t, "a-b", safeName("--a--b--"))
	long := safeName("gpu-exec-" + strings.Repeat("x", 100))
	assert.LessOrEqual(t, len(long), 63)
}
