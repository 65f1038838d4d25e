// Package kube provides Kubernetes client construction and small
// cluster helpers shared by the meshsim subsystems.
package kube

import (
	"context"

	"github.com/cockroachdb/errors"
	istioclientv1beta1 "istio.io/client-go/pkg/apis/networking/v1beta1"
	istiosecurityv1beta1 "istio.io/client-go/pkg/apis/security/v1beta1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// NewScheme builds the runtime scheme with all resource types meshsim
// touches: built-in types plus Istio networking and security APIs.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()

	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return nil, errors.Wrap(err, "failed to add client-go types to scheme")
	}

	if err := istioclientv1beta1.AddToScheme(scheme); err != nil {
		return nil, errors.Wrap(err, "failed to add Istio networking types to scheme")
	}

	if err := istiosecurityv1beta1.AddToScheme(scheme); err != nil {
		return nil, errors.Wrap(err, "failed to add Istio security types to scheme")
	}

	return scheme, nil
}

// RestConfig loads the REST config from the given kubeconfig path, or
// falls back to the standard loading rules (in-cluster, KUBECONFIG,
// ~/.kube/config) when the path is empty.
func RestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load kubeconfig %s", kubeconfig)
		}

		return cfg, nil
	}

	cfg, err := ctrl.GetConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load kubernetes config")
	}

	return cfg, nil
}

// NewClient builds a controller-runtime client for the cluster.
func NewClient(kubeconfig string) (client.Client, error) {
	restCfg, err := RestConfig(kubeconfig)
	if err != nil {
		return nil, err
	}

	scheme, err := NewScheme()
	if err != nil {
		return nil, err
	}

	c, err := client.New(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create kubernetes client")
	}

	return c, nil
}

// EnsureNamespace creates the namespace if it does not exist and merges
// the given labels onto it if it does. Existing labels not in the map
// are left untouched.
func EnsureNamespace(ctx context.Context, c client.Client, name string, labels map[string]string) error {
	ns := &corev1.Namespace{}

	err := c.Get(ctx, types.NamespacedName{Name: name}, ns)
	if apierrors.IsNotFound(err) {
		ns = &corev1.Namespace{
			ObjectMeta: metav1.ObjectMeta{
				Name:   name,
				Labels: labels,
			},
		}

		if createErr := c.Create(ctx, ns); createErr != nil {
			if apierrors.IsAlreadyExists(createErr) {
				return nil
			}

			return errors.Wrapf(createErr, "failed to create namespace %s", name)
		}

		return nil
	}

	if err != nil {
		return errors.Wrapf(err, "failed to get namespace %s", name)
	}

	if len(labels) == 0 {
		return nil
	}

	patched := ns.DeepCopy()
	if patched.Labels == nil {
		patched.Labels = map[string]string{}
	}

	changed := false

	for k, v := range labels {
		if patched.Labels[k] != v {
			patched.Labels[k] = v
			changed = true
		}
	}

	if !changed {
		return nil
	}

	if err := c.Patch(ctx, patched, client.MergeFrom(ns)); err != nil {
		return errors.Wrapf(err, "failed to patch namespace %s labels", name)
	}

	return nil
}
