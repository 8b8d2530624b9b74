// Package simulate loads YAML scenario fixtures and runs them against a
// region engine wired to a presentation engine and a scripted fake reader,
// without touching a real radio. It is the engine behind `credcore simulate`.
package simulate

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/fieldgate/credcore/internal/beacon"
	"github.com/fieldgate/credcore/internal/cryptutil"
	credmetrics "github.com/fieldgate/credcore/internal/metrics"
	"github.com/fieldgate/credcore/internal/presentation"
	"github.com/fieldgate/credcore/internal/region"
	"github.com/fieldgate/credcore/internal/transport"
	"github.com/fieldgate/credcore/internal/transport/fake"
	"github.com/fieldgate/credcore/internal/wire"
)

// ErrUnknownReaderBehavior indicates a scenario names a reader behavior that
// is not recognized.
var ErrUnknownReaderBehavior = errors.New("simulate: unknown reader behavior")

// ErrUnknownCredentialStatus indicates a scenario names a credential status
// that is not one of the reader's recognized status codes.
var ErrUnknownCredentialStatus = errors.New("simulate: unknown credential status")

// ErrUnknownEventKind indicates a scenario event names an unrecognized kind.
var ErrUnknownEventKind = errors.New("simulate: unknown event kind")

// Scenario is the YAML-decoded shape of a `credcore simulate --scenario`
// fixture file.
type Scenario struct {
	Region     RegionSpec     `yaml:"region"`
	Engine     EngineSpec     `yaml:"engine"`
	Reader     ReaderSpec     `yaml:"reader"`
	Events     []EventSpec    `yaml:"events"`
	RunTimeout time.Duration  `yaml:"run_timeout"`
}

// RegionSpec names the region the scenario's events are dispatched against.
type RegionSpec struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// EngineSpec is the presentation engine configuration for the scenario,
// using the same hex/string encodings as internal/config.EngineConfig.
type EngineSpec struct {
	ServiceUUID        string        `yaml:"service_uuid"`
	CharacteristicUUID string        `yaml:"characteristic_uuid"`
	DeviceID           string        `yaml:"device_id"`
	DeviceKey          string        `yaml:"device_key"`
	Credential         string        `yaml:"credential"`
	ScanTimeout        time.Duration `yaml:"scan_timeout"`
	ConnectionTimeout  time.Duration `yaml:"connection_timeout"`
	ResponseTimeout    time.Duration `yaml:"response_timeout"`
	RetryMax           int           `yaml:"retry_max"`
	RetryBackoff       time.Duration `yaml:"retry_backoff"`
}

// ReaderSpec scripts the fake reader's side of the protocol.
type ReaderSpec struct {
	// PeripheralID/PeripheralName identify the simulated peripheral. An
	// empty PeripheralID means the scan never discovers anything.
	PeripheralID   string `yaml:"peripheral_id"`
	PeripheralName string `yaml:"peripheral_name"`

	// AuthBehavior is one of: "echo" (correctly echoes nonce_M),
	// "corrupt_nonce" (flips a bit before echoing), "decryption_error"
	// (responds with an ERROR/DECRYPTION_FAILED frame), "silent" (never
	// responds, forcing a response timeout).
	AuthBehavior string `yaml:"auth_behavior"`

	// CredentialStatus names the status byte for the CREDENTIAL_RESPONSE,
	// one of "success", "rejected", "expired", "revoked", "invalid_format".
	// Ignored when AuthBehavior prevents reaching the credential stage.
	CredentialStatus string `yaml:"credential_status"`
}

// EventSpec schedules a single region event (or manual trigger) at a delay
// relative to simulation start.
type EventSpec struct {
	DelayMS int    `yaml:"delay_ms"`
	Kind    string `yaml:"kind"` // "entered", "exited", "manual_trigger"
}

// Load parses scenario YAML from data.
func Load(data []byte) (Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	return s, nil
}

var credentialStatusByName = map[string]byte{
	"success":        wire.StatusSuccess,
	"rejected":       wire.StatusRejected,
	"expired":        wire.StatusExpired,
	"revoked":        wire.StatusRevoked,
	"invalid_format": wire.StatusInvalidFormat,
}

// Run wires the scenario's region engine, presentation engine, and fake
// transport, dispatches its scheduled events, and returns the final
// presentation Result observed before ctx is cancelled or RunTimeout elapses.
// metrics may be nil, in which case no Prometheus instrumentation runs.
func Run(ctx context.Context, s Scenario, logger *slog.Logger, metrics *credmetrics.Collector) (presentation.Result, error) {
	presCfg, err := presentationConfig(s.Engine)
	if err != nil {
		return presentation.Result{}, err
	}

	script, err := fakeScript(s.Reader, presCfg)
	if err != nil {
		return presentation.Result{}, err
	}

	regionID := uuid.Nil
	if s.Region.ID != "" {
		regionID, err = uuid.Parse(s.Region.ID)
		if err != nil {
			return presentation.Result{}, fmt.Errorf("parse region id: %w", err)
		}
	}

	presOpts := []presentation.Option{presentation.WithLogger(logger)}
	regionOpts := []region.Option{region.WithLogger(logger)}
	if metrics != nil {
		presOpts = append(presOpts, presentation.WithMetrics(metrics))
		regionOpts = append(regionOpts, region.WithMetrics(metrics))
	}

	resultCh := make(chan presentation.Result, 1)
	tr := fake.New(script)
	engine, err := presentation.NewEngine(presCfg, tr, func(r presentation.Result) {
		select {
		case resultCh <- r:
		default:
		}
	}, presOpts...)
	if err != nil {
		return presentation.Result{}, fmt.Errorf("construct presentation engine: %w", err)
	}
	defer engine.Close()

	regionEngine := region.NewEngine(regionID, engine, regionOpts...)

	runTimeout := s.RunTimeout
	if runTimeout == 0 {
		runTimeout = 10 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error { engine.Run(gCtx); return nil })
	g.Go(func() error { regionEngine.Run(gCtx); return nil })

	for _, ev := range s.Events {
		if err := dispatchEvent(ev, regionID, regionEngine); err != nil {
			cancel()
			_ = g.Wait()
			return presentation.Result{}, err
		}
	}

	select {
	case r := <-resultCh:
		cancel()
		_ = g.Wait()
		return r, nil
	case <-runCtx.Done():
		_ = g.Wait()
		return presentation.Result{}, fmt.Errorf("simulate: %w", runCtx.Err())
	}
}

func dispatchEvent(ev EventSpec, regionID uuid.UUID, re *region.Engine) error {
	time.Sleep(time.Duration(ev.DelayMS) * time.Millisecond)

	switch ev.Kind {
	case "entered":
		re.Dispatch(beacon.Event{Region: regionID, Kind: beacon.EventEntered})
	case "exited":
		re.Dispatch(beacon.Event{Region: regionID, Kind: beacon.EventExited})
	case "manual_trigger":
		re.Trigger()
	default:
		return fmt.Errorf("event kind %q: %w", ev.Kind, ErrUnknownEventKind)
	}
	return nil
}

func presentationConfig(spec EngineSpec) (presentation.Config, error) {
	serviceUUID, err := uuid.Parse(spec.ServiceUUID)
	if err != nil {
		return presentation.Config{}, fmt.Errorf("parse service_uuid: %w", err)
	}
	characteristicUUID, err := uuid.Parse(spec.CharacteristicUUID)
	if err != nil {
		return presentation.Config{}, fmt.Errorf("parse characteristic_uuid: %w", err)
	}
	deviceID, err := hex.DecodeString(spec.DeviceID)
	if err != nil {
		return presentation.Config{}, fmt.Errorf("decode device_id: %w", err)
	}
	deviceKey, err := hex.DecodeString(spec.DeviceKey)
	if err != nil {
		return presentation.Config{}, fmt.Errorf("decode device_key: %w", err)
	}

	cfg := presentation.Config{
		ServiceUUID:        serviceUUID,
		CharacteristicUUID: characteristicUUID,
		DeviceID:           deviceID,
		DeviceKey:          deviceKey,
		Credential:         spec.Credential,
		ScanTimeout:        spec.ScanTimeout,
		ConnectionTimeout:  spec.ConnectionTimeout,
		ResponseTimeout:    spec.ResponseTimeout,
		RetryMax:           spec.RetryMax,
		RetryBackoff:       spec.RetryBackoff,
	}
	return cfg.WithDefaults(), nil
}

func fakeScript(spec ReaderSpec, cfg presentation.Config) (fake.Script, error) {
	if spec.PeripheralID == "" {
		return fake.Script{ScanNeverFires: true}, nil
	}

	status, ok := credentialStatusByName[spec.CredentialStatus]
	if spec.CredentialStatus != "" && !ok {
		return fake.Script{}, fmt.Errorf("credential_status %q: %w", spec.CredentialStatus, ErrUnknownCredentialStatus)
	}
	if spec.CredentialStatus == "" {
		status = wire.StatusSuccess
	}

	writeReply, err := readerWriteReply(spec.AuthBehavior, cfg.DeviceKey, status)
	if err != nil {
		return fake.Script{}, err
	}

	return fake.Script{
		Peripheral: transport.Peripheral{ID: spec.PeripheralID, Name: spec.PeripheralName},
		Service:    cfg.ServiceUUID,
		WriteReply: writeReply,
	}, nil
}

func readerWriteReply(behavior string, deviceKey []byte, status byte) (func(uuid.UUID, []byte) []byte, error) {
	switch behavior {
	case "", "echo":
		return func(_ uuid.UUID, data []byte) []byte {
			return scriptedReply(data, deviceKey, status, false)
		}, nil
	case "corrupt_nonce":
		return func(_ uuid.UUID, data []byte) []byte {
			return scriptedReply(data, deviceKey, status, true)
		}, nil
	case "decryption_error":
		return func(_ uuid.UUID, data []byte) []byte {
			if len(data) > 0 && data[0] == wire.TypeAuthRequest {
				return []byte{wire.TypeError, wire.ErrCodeDecryptionFailed}
			}
			return nil
		}, nil
	case "silent":
		return func(uuid.UUID, []byte) []byte { return nil }, nil
	default:
		return nil, fmt.Errorf("auth_behavior %q: %w", behavior, ErrUnknownReaderBehavior)
	}
}

// scriptedReply decrypts an AUTH_REQUEST to recover nonce_M (standing in for
// a real reader, which independently holds the device key), builds the
// corresponding AUTH_RESPONSE, and replies to CREDENTIAL with status. When
// corrupt is true, a single bit of the echoed nonce_M is flipped.
func scriptedReply(data []byte, deviceKey []byte, status byte, corrupt bool) []byte {
	switch {
	case len(data) == 0:
		return nil
	case data[0] == wire.TypeAuthRequest && len(data) >= 65:
		iv := data[17:33]
		ciphertext := data[33:65]
		nonceM, err := cryptutil.Decrypt(deviceKey, iv, ciphertext)
		if err != nil {
			return []byte{wire.TypeError, wire.ErrCodeDecryptionFailed}
		}
		if corrupt {
			nonceM = append([]byte(nil), nonceM...)
			nonceM[0] ^= 0x01
		}
		nonceR := make([]byte, len(nonceM))
		copy(nonceR, "RRRRRRRRRRRRRRRR")
		plaintext := append(append([]byte(nil), nonceM...), nonceR...)
		enc, err := cryptutil.Encrypt(deviceKey, plaintext, nil)
		if err != nil {
			return []byte{wire.TypeError, wire.ErrCodeDecryptionFailed}
		}
		buf := []byte{wire.TypeAuthResponse}
		buf = append(buf, enc.IV...)
		buf = append(buf, enc.Ciphertext...)
		return buf
	case data[0] == wire.TypeCredential:
		return []byte{wire.TypeCredentialResp, status}
	default:
		return nil
	}
}
