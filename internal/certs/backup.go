package certs

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"
)

// DefaultBackupDir is where certificate backups land unless configured
// otherwise. Relative to the working directory so backups survive
// cluster teardown.
const DefaultBackupDir = "./cluster-state"

// BackupStore persists certificate secrets outside the cluster, one
// YAML blob per secret keyed by secret name.
type BackupStore struct {
	dir string
}

// NewBackupStore creates a store rooted at dir. An empty dir falls back
// to DefaultBackupDir.
func NewBackupStore(dir string) *BackupStore {
	if dir == "" {
		dir = DefaultBackupDir
	}

	return &BackupStore{dir: dir}
}

// Write serializes the secret to the backup directory. Server-side
// metadata is stripped so the blob can be re-created in a fresh
// cluster.
func (s *BackupStore) Write(secret *corev1.Secret) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create backup directory %s", s.dir)
	}

	stripped := stripServerMetadata(secret)

	data, err := yaml.Marshal(stripped)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize secret %s", secret.Name)
	}

	path := s.path(secret.Name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, "failed to write backup %s", path)
	}

	return nil
}

// Read loads a backup by secret name. A missing backup is a miss, not
// an error: both return values are nil.
func (s *BackupStore) Read(name string) (*corev1.Secret, error) {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrapf(err, "failed to read backup for %s", name)
	}

	secret := &corev1.Secret{}
	if err := yaml.Unmarshal(data, secret); err != nil {
		return nil, errors.Wrapf(err, "failed to parse backup for %s", name)
	}

	return secret, nil
}

func (s *BackupStore) path(name string) string {
	return filepath.Join(s.dir, name+".yaml")
}

func stripServerMetadata(secret *corev1.Secret) *corev1.Secret {
	stripped := secret.DeepCopy()
	stripped.ObjectMeta = metav1.ObjectMeta{
		Name:        secret.Name,
		Namespace:   secret.Namespace,
		Labels:      secret.Labels,
		Annotations: secret.Annotations,
	}
	stripped.TypeMeta = metav1.TypeMeta{
		APIVersion: "v1",
		Kind:       "Secret",
	}

	return stripped
}
