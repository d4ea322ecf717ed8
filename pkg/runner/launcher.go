package runner

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/samber/lo"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"

	"github.com/modelops/gpusched/pkg/bus"
)

// Launcher spawns the isolated execution unit for one dispatch. The unit
// reports back through the same store/token contract, so the launcher's
// only job is to get it scheduled onto a GPU node.
type Launcher interface {
	Launch(ctx context.Context, evt bus.DispatchEvent) error
}

// LaunchConfig describes the batch Job the launcher creates per dispatch.
// BaseEnv carries the store/bus coordinates the unit needs; JOB_ID and
// DISPATCH_TOKEN are added per launch.
type LaunchConfig struct {
	Namespace        string
	Image            string
	NodeSelector     map[string]string
	GPUResourceName  string
	GPUResourceCount string
	TTLSeconds       int
	BaseEnv          map[string]string
}

type KubeLauncher struct {
	client kubernetes.Interface
	cfg    LaunchConfig
}

func NewKubeLauncher(client kubernetes.Interface, cfg LaunchConfig) *KubeLauncher {
	return &KubeLauncher{client: client, cfg: cfg}
}

func (l *KubeLauncher) Launch(ctx context.Context, evt bus.DispatchEvent) error {
	name := safeName(fmt.Sprintf("gpu-exec-%s-%s", shortID(evt.JobID), shortID(evt.DispatchToken)))

	env := lo.Assign(l.cfg.BaseEnv, map[string]string{
		"JOB_ID":         evt.JobID,
		"DISPATCH_TOKEN": evt.DispatchToken,
	})
	envVars := lo.MapToSlice(env, func(k, v string) corev1.EnvVar {
		return corev1.EnvVar{Name: k, Value: v}
	})
	sort.Slice(envVars, func(i, j int) bool { return envVars[i].Name < envVars[j].Name })

	gpu := resource.MustParse(l.cfg.GPUResourceCount)
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: l.cfg.Namespace,
			Labels:    map[string]string{"app": "gpu-executor"},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            ptr.To(int32(0)),
			TTLSecondsAfterFinished: ptr.To(int32(l.cfg.TTLSeconds)),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{"job-name": name, "app": "gpu-executor"},
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					NodeSelector:  l.cfg.NodeSelector,
					Containers: []corev1.Container{
						{
							Name:            "executor",
							Image:           l.cfg.Image,
							ImagePullPolicy: corev1.PullIfNotPresent,
							Env:             envVars,
							Resources: corev1.ResourceRequirements{
								Requests: corev1.ResourceList{
									corev1.ResourceName(l.cfg.GPUResourceName): gpu,
								},
								Limits: corev1.ResourceList{
									corev1.ResourceName(l.cfg.GPUResourceName): gpu,
								},
							},
						},
					},
				},
			},
		},
	}

	_, err := l.client.BatchV1().Jobs(l.cfg.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		// Redelivered dispatch; the unit is already scheduled.
		return nil
	}
	return err
}

var (
	unsafeNameChars = regexp.MustCompile(`[^a-z0-9-]+`)
	repeatedDashes  = regexp.MustCompile(`-+`)
)

// safeName makes a DNS-1123 compatible object name.
func safeName(s string) string {
	s = strings.ToLower(s)
	s = unsafeNameChars.ReplaceAllString(s, "-")
	s = repeatedDashes.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 63 {
		s = s[:63]
	}
	return s
}

func shortID(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
