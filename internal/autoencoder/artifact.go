package autoencoder

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"gestureguard/internal/normalize"
)

// FormatVersion is written into every artifact.
const FormatVersion = 1

var (
	ErrChecksum = errors.New("autoencoder: artifact checksum mismatch")
	ErrFormat   = errors.New("autoencoder: unsupported artifact format")
)

// Artifact is the persisted form of a trained profile: topology, weights and
// the normalization stats fitted on the training batch.
type Artifact struct {
	FormatVersion int              `json:"formatVersion"`
	UserID        string           `json:"userId"`
	InputDim      int              `json:"inputDim"`
	HiddenDim     int              `json:"hiddenDim"`
	Features      []string         `json:"features,omitempty"`
	Layers        []LayerState     `json:"layers"`
	Normalization *normalize.Stats `json:"normalization,omitempty"`
	Samples       int              `json:"samples"`
	FinalLoss     float64          `json:"finalLoss"`
	TrainedAt     time.Time        `json:"trainedAt"`
}

type envelope struct {
	Checksum string          `json:"checksum"`
	Artifact json.RawMessage `json:"artifact"`
}

// NewArtifact snapshots m.
func NewArtifact(m *Model, userID string, stats *normalize.Stats, samples int, finalLoss float64) *Artifact {
	return &Artifact{
		FormatVersion: FormatVersion,
		UserID:        userID,
		InputDim:      m.inputDim,
		HiddenDim:     m.hiddenDim,
		Layers:        m.Layers(),
		Normalization: stats,
		Samples:       samples,
		FinalLoss:     finalLoss,
		TrainedAt:     time.Now().UTC(),
	}
}

// Model rebuilds the network described by the artifact.
func (a *Artifact) Model() (*Model, error) {
	if a.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: version %d", ErrFormat, a.FormatVersion)
	}
	m, err := FromLayers(a.Layers)
	if err != nil {
		return nil, err
	}
	if m.inputDim != a.InputDim {
		return nil, fmt.Errorf("autoencoder: artifact declares %d inputs, layers have %d", a.InputDim, m.inputDim)
	}
	if a.Normalization != nil {
		if err := a.Normalization.Validate(a.InputDim); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Marshal encodes the artifact with a BLAKE2b-256 checksum. A non-empty key
// turns the checksum into a MAC.
func (a *Artifact) Marshal(key []byte) ([]byte, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	sum, err := checksum(body, key)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Checksum: sum, Artifact: body})
}

// UnmarshalArtifact verifies and decodes data produced by Marshal.
func UnmarshalArtifact(data []byte, key []byte) (*Artifact, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode artifact envelope: %w", err)
	}
	if len(env.Artifact) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrFormat)
	}
	sum, err := checksum(env.Artifact, key)
	if err != nil {
		return nil, err
	}
	if sum != env.Checksum {
		return nil, ErrChecksum
	}

	var a Artifact
	if err := json.Unmarshal(env.Artifact, &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if a.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: version %d", ErrFormat, a.FormatVersion)
	}
	return &a, nil
}

func checksum(body, key []byte) (string, error) {
	h, err := blake2b.New256(key)
	if err != nil {
		return "", fmt.Errorf("artifact checksum: %w", err)
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}
