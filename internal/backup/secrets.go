package backup

import (
	"errors"
	"fmt"
	"os"

	"github.com/chesley-web/siteops/internal/envcrypt"
	"github.com/chesley-web/siteops/internal/storage"
)

func (o *Orchestrator) encryptSecrets(job *Job) ([]Artifact, error) {
	const step = "secrets encryption"

	if o.cfg.EncryptionPassword == "" {
		return nil, stepErr(step, KindConfig, errors.New("BACKUP_ENCRYPTION_PASSWORD is not set"))
	}
	if _, err := os.Stat(o.cfg.SecretsFile); err != nil {
		return nil, stepErr(step, KindIO, fmt.Errorf("secrets file: %w", err))
	}

	o.log.Info().Str("file", o.cfg.SecretsFile).Msg("Encrypting secrets file")
	encPath, saltPath, err := envcrypt.EncryptFile(o.cfg.SecretsFile, job.WorkDir, o.cfg.EncryptionPassword)
	if err != nil {
		return nil, stepErr(step, KindIO, err)
	}
	return []Artifact{
		{Path: encPath, Kind: storage.KindEnv, Ephemeral: true},
		{Path: saltPath, Kind: storage.KindEnv},
	}, nil
}
