package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chatbridge/internal/config"
)

// Archive layout: the config under its base name, the sqlite queue under
// queue/, stored media under storage/.
const (
	archiveQueueDir   = "queue"
	archiveStorageDir = "storage"
)

func backupCmd() *cobra.Command {
	var outputPath string
	var withMedia bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the config, offline queue database and stored media",
		Long: `Creates a compressed .tar.gz archive containing the configuration file,
the sqlite offline queue (when that backend is used) and, with --media, the
uploaded files. The backup is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("chatbridge-backup-%s.tar.gz", ts))
			}

			entries := map[string]string{}
			if _, err := os.Stat(cfgPath); err == nil {
				entries[filepath.Base(cfgPath)] = cfgPath
			}
			if cfg.Queue.Backend == "sqlite" {
				for _, suffix := range []string{"", "-wal", "-shm"} {
					p := cfg.Queue.DBPath + suffix
					if _, err := os.Stat(p); err == nil {
						entries[path.Join(archiveQueueDir, filepath.Base(p))] = p
					}
				}
			}
			if withMedia {
				if err := collectDir(cfg.Storage.Root, archiveStorageDir, entries); err != nil {
					return fmt.Errorf("collect media: %w", err)
				}
			}

			if len(entries) == 0 {
				return fmt.Errorf("nothing to back up (config: %s)", cfgPath)
			}

			written, err := createTarGz(outputPath, entries)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Backup created: %s\n", outputPath)
			fmt.Fprintf(cmd.OutOrStdout(), "Files included: %d (%s)\n", len(entries), humanSize(written))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.chatbridge/backups/chatbridge-backup-<timestamp>.tar.gz)")
	cmd.Flags().BoolVar(&withMedia, "media", false, "include uploaded files from the storage root")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [file.tar.gz]",
		Short: "Restore data from a backup archive",
		Long: `Restores the configuration, sqlite offline queue and media from a .tar.gz
archive created by 'chatbridge backup'. Paths are taken from the current config.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if !force {
				if _, err := os.Stat(cfgPath); err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "WARNING: This will overwrite existing data.\n")
					fmt.Fprintf(cmd.OutOrStdout(), "  Config: %s\n  Queue:  %s\n  Media:  %s\n", cfgPath, cfg.Queue.DBPath, cfg.Storage.Root)
					return fmt.Errorf("restore aborted (use --force to proceed)")
				}
			}

			targets := restoreTargets{
				configPath:  cfgPath,
				queueDir:    filepath.Dir(cfg.Queue.DBPath),
				storageRoot: cfg.Storage.Root,
			}
			restored, err := extractTarGz(args[0], targets)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Restore completed from: %s\n", args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "Files restored: %d\n", len(restored))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

// collectDir adds every regular file under root to entries, named under prefix.
func collectDir(root, prefix string, entries map[string]string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		entries[path.Join(prefix, filepath.ToSlash(rel))] = p
		return nil
	})
}

// createTarGz writes entries (archive name → file path) and returns the
// number of content bytes archived.
func createTarGz(outputPath string, entries map[string]string) (int64, error) {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return 0, err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	var total int64
	for name, filePath := range entries {
		n, err := addFileToTar(tarWriter, name, filePath)
		if err != nil {
			return total, fmt.Errorf("add %s: %w", filePath, err)
		}
		total += n
	}
	return total, nil
}

func addFileToTar(tw *tar.Writer, name, filePath string) (int64, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return 0, err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return 0, err
	}
	return io.Copy(tw, file)
}

type restoreTargets struct {
	configPath  string
	queueDir    string
	storageRoot string
}

// target maps an archive entry back onto the filesystem. Entries that would
// escape their directory are rejected.
func (t restoreTargets) target(name string) (string, error) {
	clean := path.Clean(name)
	if strings.HasPrefix(clean, "../") || clean == ".." || path.IsAbs(clean) {
		return "", fmt.Errorf("unsafe archive entry %q", name)
	}
	switch {
	case strings.HasPrefix(clean, archiveStorageDir+"/"):
		return filepath.Join(t.storageRoot, filepath.FromSlash(strings.TrimPrefix(clean, archiveStorageDir+"/"))), nil
	case strings.HasPrefix(clean, archiveQueueDir+"/"):
		return filepath.Join(t.queueDir, path.Base(clean)), nil
	case !strings.Contains(clean, "/"):
		return t.configPath, nil
	}
	return "", fmt.Errorf("unexpected archive entry %q", name)
}

func extractTarGz(archivePath string, targets restoreTargets) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var restored []string

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		targetPath, err := targets.target(header.Name)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return nil, err
		}
		outFile, err := os.Create(targetPath)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", targetPath, err)
		}
		if _, err := io.Copy(outFile, tarReader); err != nil {
			outFile.Close()
			return nil, fmt.Errorf("extract %s: %w", targetPath, err)
		}
		outFile.Close()
		restored = append(restored, targetPath)
	}

	return restored, nil
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
