package certs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/meshsim/meshsim/internal/kube"
	"github.com/meshsim/meshsim/internal/metrics"
)

// Outcome says how a valid certificate came to exist.
type Outcome string

// Ensure outcomes.
const (
	OutcomeReused   Outcome = "reused"
	OutcomeRestored Outcome = "restored_from_backup"
	OutcomeIssued   Outcome = "issued"
)

// EnsureRequest identifies the certificate to guarantee.
type EnsureRequest struct {
	Namespace        string
	SecretName       string
	Domain           string
	EnvironmentClass string
	Credentials      CloudflareCredentials
}

// Manager guarantees a valid wildcard TLS secret exists for a domain,
// minimizing redundant issuance and surviving cluster rebuilds.
type Manager struct {
	client  client.Client
	backup  *BackupStore
	issuer  IssuerBackend
	metrics metrics.Collector
	logger  *slog.Logger

	// locks serializes Ensure per namespace/name pair. Concurrent
	// runs for the same secret risk duplicate issuance.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a certificate lifecycle Manager. issuer may be
// nil, in which case only self-signed issuance is available.
func NewManager(
	c client.Client,
	backup *BackupStore,
	issuer IssuerBackend,
	collector metrics.Collector,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		client:  c,
		backup:  backup,
		issuer:  issuer,
		metrics: collector,
		logger:  logger.With("component", "cert-manager"),
		locks:   map[string]*sync.Mutex{},
	}
}

// Ensure runs the ordered decision procedure: reuse a live secret,
// restore from backup, or provision fresh (ACME when the issuer is
// healthy and credentials are complete, self-signed otherwise). Each
// step short-circuits on success.
func (m *Manager) Ensure(ctx context.Context, req EnsureRequest) (Outcome, error) {
	unlock := m.lock(req.Namespace, req.SecretName)
	defer unlock()

	start := time.Now()

	outcome, err := m.ensure(ctx, req)
	if err != nil {
		m.metrics.RecordCertEnsureDuration(ctx, "error", time.Since(start))

		return "", err
	}

	m.metrics.RecordCertEnsureDuration(ctx, string(outcome), time.Since(start))
	m.metrics.RecordCertOutcome(ctx, string(outcome))
	m.logger.Info("certificate ensured",
		"secret", req.SecretName,
		"domain", req.Domain,
		"outcome", string(outcome),
		"duration", time.Since(start),
	)

	return outcome, nil
}

func (m *Manager) ensure(ctx context.Context, req EnsureRequest) (Outcome, error) {
	// Step 1: reuse the live secret if it still has enough runway.
	live, err := m.getSecret(ctx, req.Namespace, req.SecretName)
	if err != nil {
		return "", err
	}

	if live != nil && m.secretValid(live) {
		// Backup is best-effort here; a failed write must not spoil
		// a perfectly good certificate.
		if backupErr := m.backup.Write(live); backupErr != nil {
			m.logger.Warn("backup write failed", "secret", req.SecretName, "error", backupErr)
		}

		return OutcomeReused, nil
	}

	// Step 2: restore from backup if the backed-up cert is valid.
	restored, err := m.tryRestore(ctx, req)
	if err != nil {
		return "", err
	}

	if restored {
		return OutcomeRestored, nil
	}

	// Steps 3-5: provision fresh.
	if err := m.provision(ctx, req); err != nil {
		return "", err
	}

	// Step 6: back up whatever was just provisioned.
	issued, err := m.getSecret(ctx, req.Namespace, req.SecretName)
	if err == nil && issued != nil {
		if backupErr := m.backup.Write(issued); backupErr != nil {
			m.logger.Warn("backup write failed", "secret", req.SecretName, "error", backupErr)
		}
	}

	return OutcomeIssued, nil
}

// tryRestore attempts a backup restore. It returns false, nil when the
// backup is missing, unreadable, invalid, or the restore could not be
// verified; none of those block provisioning.
func (m *Manager) tryRestore(ctx context.Context, req EnsureRequest) (bool, error) {
	backed, err := m.backup.Read(req.SecretName)
	if err != nil {
		// A corrupt backup is a cache miss, not a reason to refuse a
		// fresh certificate.
		m.logger.Warn("backup unreadable, provisioning fresh",
			"secret", req.SecretName, "error", err)

		return false, nil
	}

	if backed == nil || !m.secretValid(backed) {
		return false, nil
	}

	// The namespace may not exist yet in a freshly rebuilt cluster.
	if err := kube.EnsureNamespace(ctx, m.client, req.Namespace, nil); err != nil {
		return false, err
	}

	restored := backed.DeepCopy()
	restored.Namespace = req.Namespace
	restored.ResourceVersion = ""

	if err := m.upsertSecret(ctx, restored); err != nil {
		return false, err
	}

	// Verify by re-reading; an unverifiable restore falls through to
	// provisioning instead of failing the run.
	verify, err := m.getSecret(ctx, req.Namespace, req.SecretName)
	if err != nil || verify == nil || !m.secretValid(verify) {
		m.logger.Warn("backup restore could not be verified, provisioning fresh",
			"secret", req.SecretName)

		return false, nil
	}

	m.logger.Info("certificate restored from backup", "secret", req.SecretName)

	return true, nil
}

// provision selects and executes an issuance path. Failures past this
// point are fatal; there is no fallback once a path is chosen.
func (m *Manager) provision(ctx context.Context, req EnsureRequest) error {
	if m.useACME(ctx, req) {
		return m.provisionACME(ctx, req)
	}

	return m.provisionSelfSigned(ctx, req)
}

// useACME decides the issuance path: ACME requires complete credentials
// and a healthy issuer backend. Any shortfall selects self-signed.
func (m *Manager) useACME(ctx context.Context, req EnsureRequest) bool {
	if m.issuer == nil || !req.Credentials.Complete() {
		return false
	}

	if err := m.issuer.Healthy(ctx, req.Credentials); err != nil {
		m.logger.Warn("issuer backend unhealthy, using self-signed path", "error", err)

		return false
	}

	return true
}

func (m *Manager) provisionACME(ctx context.Context, req EnsureRequest) error {
	tier := TierStaging
	if req.EnvironmentClass == "production" {
		tier = TierProduction
	}

	issuerName, err := m.issuer.ApplyIssuer(ctx, tier, req.Credentials)
	if err != nil {
		return err
	}

	if err := m.issuer.WaitIssuerReady(ctx, issuerName, IssuerReadyTimeout); err != nil {
		return err
	}

	certName, err := m.issuer.SubmitCertificate(ctx, req.Domain, req.Namespace, req.SecretName, issuerName)
	if err != nil {
		return err
	}

	return m.issuer.WaitCertificateReady(ctx, req.Namespace, certName, CertificateReadyTimeout)
}

func (m *Manager) provisionSelfSigned(ctx context.Context, req EnsureRequest) error {
	pair, err := GenerateSelfSigned(req.Domain)
	if err != nil {
		return err
	}

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      req.SecretName,
			Namespace: req.Namespace,
		},
		Type: corev1.SecretTypeTLS,
		Data: map[string][]byte{
			corev1.TLSCertKey:       pair.CertPEM,
			corev1.TLSPrivateKeyKey: pair.KeyPEM,
		},
	}

	if err := kube.EnsureNamespace(ctx, m.client, req.Namespace, nil); err != nil {
		return err
	}

	if err := m.upsertSecret(ctx, secret); err != nil {
		return err
	}

	m.logger.Info("self-signed certificate issued",
		"secret", req.SecretName,
		"domain", req.Domain,
		"validity", SelfSignedValidity,
	)

	return nil
}

// getSecret returns nil, nil when the secret does not exist.
func (m *Manager) getSecret(ctx context.Context, namespace, name string) (*corev1.Secret, error) {
	secret := &corev1.Secret{}

	err := m.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, secret)
	if apierrors.IsNotFound(err) {
		return nil, nil
	}

	if err != nil {
		m.metrics.RecordReconcileError(ctx, metrics.ClassifyKubeError(err))

		return nil, errors.Wrapf(err, "failed to get secret %s/%s", namespace, name)
	}

	return secret, nil
}

func (m *Manager) upsertSecret(ctx context.Context, desired *corev1.Secret) error {
	existing := &corev1.Secret{}

	err := m.client.Get(ctx, client.ObjectKeyFromObject(desired), existing)
	if apierrors.IsNotFound(err) {
		if createErr := m.client.Create(ctx, desired); createErr != nil {
			return errors.Wrapf(createErr, "failed to create secret %s/%s", desired.Namespace, desired.Name)
		}

		return nil
	}

	if err != nil {
		return errors.Wrapf(err, "failed to get secret %s/%s", desired.Namespace, desired.Name)
	}

	patch := client.MergeFrom(existing.DeepCopy())
	existing.Type = desired.Type
	existing.Data = desired.Data

	if err := m.client.Patch(ctx, existing, patch); err != nil {
		return errors.Wrapf(err, "failed to update secret %s/%s", desired.Namespace, desired.Name)
	}

	return nil
}

// secretValid reports whether the secret carries a certificate with at
// least ReuseThreshold of validity left.
func (m *Manager) secretValid(secret *corev1.Secret) bool {
	certPEM, ok := secret.Data[corev1.TLSCertKey]
	if !ok {
		return false
	}

	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		m.logger.Warn("secret contains unparseable certificate",
			"secret", secret.Name, "error", err)

		return false
	}

	return ValidLongEnough(cert, time.Now())
}

func (m *Manager) lock(namespace, name string) func() {
	key := namespace + "/" + name

	m.mu.Lock()

	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}

	m.mu.Unlock()

	l.Lock()

	return l.Unlock
}
