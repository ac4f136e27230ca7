package sirene

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Meta is the registry sidecar persisted next to the partition tree.
// It records which source archives the artifacts were built from, so
// archive scans at query time read the same data the build did.
type Meta struct {
	CompanyArchive       string `yaml:"company_archive"`
	EstablishmentArchive string `yaml:"establishment_archive"`
	PartitionRoot        string `yaml:"partition_root"`
	CreatedAtEpoch       int64  `yaml:"created_at_epoch"`
	SampleRowGroups      int    `yaml:"sample_row_groups"`
}

func metaPath(partitionsDir string) string {
	return filepath.Join(partitionsDir, "meta.yaml")
}

func writeMeta(partitionsDir string, m Meta) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "sirene: marshal meta")
	}
	if err := os.WriteFile(metaPath(partitionsDir), data, 0o644); err != nil {
		return eris.Wrap(err, "sirene: write meta")
	}
	return nil
}

func readMeta(partitionsDir string) (Meta, error) {
	var m Meta
	data, err := os.ReadFile(metaPath(partitionsDir))
	if err != nil {
		return m, eris.Wrap(err, "sirene: read meta")
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, eris.Wrap(err, "sirene: unmarshal meta")
	}
	return m, nil
}
