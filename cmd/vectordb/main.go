// Package main provides the vectordb CLI entry point.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/orneryd/vectordb/pkg/config"
	"github.com/orneryd/vectordb/pkg/engine"
	"github.com/orneryd/vectordb/pkg/fsutil"
	"github.com/orneryd/vectordb/pkg/registry"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vectordb",
		Short: "vectordb - embeddable vector similarity store",
		Long: `vectordb is a small embeddable vector database written in Go,
storing each collection as a single append-only log file backed by an
HNSW approximate-nearest-neighbor index.

Features:
  • Cosine, dot-product, and Euclidean similarity
  • Crash-safe append-only log with log-on-open HNSW rebuild
  • Optional at-rest encryption of stored vectors
  • A small Badger-backed registry for named stores`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vectordb v%s (%s)\n", version, commit)
		},
	})

	rootCmd.AddCommand(newCreateCmd())
	rootCmd.AddCommand(newInsertCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newDeleteCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newDropCmd())
	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(newBackupCmd())
	rootCmd.AddCommand(newRegistryCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create [path]",
		Short: "Create a new vector store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			name, _ := cmd.Flags().GetString("name")
			dim, _ := cmd.Flags().GetInt("dimension")
			metric, _ := cmd.Flags().GetString("metric")
			register, _ := cmd.Flags().GetBool("register")

			if name == "" {
				name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
			cfg := &config.Config{Name: name, Path: path, Dimension: dim, Metric: metric}

			e, err := engine.Create(cfg)
			if err != nil {
				return fmt.Errorf("creating store: %w", err)
			}
			defer e.Close()

			if err := cfg.Save(configPathFor(path)); err != nil {
				return fmt.Errorf("saving store config: %w", err)
			}

			fmt.Printf("✅ Created store %q at %s (dimension=%d, metric=%s)\n", name, path, dim, metric)

			if register {
				if err := registerStore(cfg); err != nil {
					fmt.Printf("   ⚠️  registry: %v\n", err)
				} else {
					fmt.Println("   📒 Registered in the local store catalog")
				}
			}
			return nil
		},
	}
	cmd.Flags().String("name", "", "Store name (defaults to the file's base name)")
	cmd.Flags().Int("dimension", 0, "Vector dimension (required, 1-4096)")
	cmd.Flags().String("metric", "cosine", "Similarity metric: cosine, dot, or euclidean")
	cmd.Flags().Bool("register", false, "Register the new store in the local catalog")
	cmd.MarkFlagRequired("dimension")
	return cmd
}

func newInsertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insert [path]",
		Short: "Insert a vector, reading one id + vector per stdin line unless --vector is given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, cfg, err := openStore(args[0])
			if err != nil {
				return err
			}
			defer e.Close()

			id, _ := cmd.Flags().GetUint64("id")
			vecFlag, _ := cmd.Flags().GetString("vector")

			if vecFlag != "" {
				vec, err := parseVector(vecFlag)
				if err != nil {
					return err
				}
				gotID, err := e.Insert(id, vec)
				if err != nil {
					return fmt.Errorf("insert: %w", err)
				}
				fmt.Printf("✅ Inserted id=%d\n", gotID)
				return nil
			}

			fmt.Printf("Reading \"id,v1,v2,...\" lines from stdin for a %d-dimensional store. Ctrl+D to stop.\n", cfg.Dimension)
			scanner := bufio.NewScanner(os.Stdin)
			count := 0
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				parts := strings.SplitN(line, ",", 2)
				if len(parts) != 2 {
					fmt.Printf("   ⚠️  skipping malformed line: %q\n", line)
					continue
				}
				lineID, err := strconv.ParseUint(parts[0], 10, 64)
				if err != nil {
					fmt.Printf("   ⚠️  skipping malformed id: %q\n", parts[0])
					continue
				}
				vec, err := parseVector(parts[1])
				if err != nil {
					fmt.Printf("   ⚠️  skipping malformed vector: %v\n", err)
					continue
				}
				if _, err := e.Insert(lineID, vec); err != nil {
					fmt.Printf("   ⚠️  insert id=%d failed: %v\n", lineID, err)
					continue
				}
				count++
			}
			fmt.Printf("✅ Inserted %d vectors\n", count)
			return nil
		},
	}
	cmd.Flags().Uint64("id", 0, "Vector id (0 = auto-assign)")
	cmd.Flags().String("vector", "", "Comma-separated vector components, e.g. \"1,2,3,4\"")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [path] [id]",
		Short: "Fetch a vector by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := openStore(args[0])
			if err != nil {
				return err
			}
			defer e.Close()

			id, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", args[1], err)
			}
			vec, err := e.Get(id)
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}
			fmt.Println(formatVector(vec))
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [path] [id]",
		Short: "Delete a vector by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := openStore(args[0])
			if err != nil {
				return err
			}
			defer e.Close()

			id, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", args[1], err)
			}
			if err := e.Delete(id); err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			fmt.Printf("🗑️  Deleted id=%d\n", id)
			return nil
		},
	}
}

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [path]",
		Short: "Find the k nearest vectors to a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := openStore(args[0])
			if err != nil {
				return err
			}
			defer e.Close()

			vecFlag, _ := cmd.Flags().GetString("vector")
			k, _ := cmd.Flags().GetInt("k")
			minSim, _ := cmd.Flags().GetFloat64("min-similarity")

			vec, err := parseVector(vecFlag)
			if err != nil {
				return err
			}

			start := time.Now()
			results, err := e.Search(vec, k, minSim)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			elapsed := time.Since(start)

			fmt.Printf("🔍 %d results in %s\n", len(results), elapsed)
			for i, r := range results {
				fmt.Printf("  %d. id=%-8d score=%.6f\n", i+1, r.ID, r.Score)
			}
			return nil
		},
	}
	cmd.Flags().String("vector", "", "Comma-separated query vector, e.g. \"1,0,0,0\"")
	cmd.Flags().Int("k", 10, "Number of nearest neighbors to return")
	cmd.Flags().Float64("min-similarity", 0, "Drop results scoring below this threshold (0 = no floor)")
	cmd.MarkFlagRequired("vector")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [path]",
		Short: "Show a store's bookkeeping counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := openStore(args[0])
			if err != nil {
				return err
			}
			defer e.Close()

			stats, err := e.Stats()
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			fmt.Printf("📊 %s\n", stats.Path)
			fmt.Printf("   Live vectors: %s\n", humanize.Comma(stats.LiveCount))
			fmt.Printf("   On-disk size: %s\n", humanize.Bytes(uint64(stats.SizeBytes)))
			fmt.Printf("   Dimension:    %d\n", stats.Dimension)
			fmt.Printf("   Metric:       %s\n", stats.Metric)
			if stats.HNSWStale {
				fmt.Println("   ⚠️  HNSW index is stale; run repair or reopen the store")
			}
			return nil
		},
	}
}

func newDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop [path]",
		Short: "Delete a store's file from disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, cfg, err := openStore(args[0])
			if err != nil {
				return err
			}
			if err := e.Drop(); err != nil {
				return fmt.Errorf("drop: %w", err)
			}
			os.Remove(configPathFor(cfg.Path))
			fmt.Printf("🗑️  Dropped store at %s\n", cfg.Path)
			return nil
		},
	}
}

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [path]",
		Short: "Fill a store with n synthetic vectors, for load testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, cfg, err := openStore(args[0])
			if err != nil {
				return err
			}
			defer e.Close()

			n, _ := cmd.Flags().GetInt("count")
			start := time.Now()
			for i := 0; i < n; i++ {
				v := make([]float32, cfg.Dimension)
				for j := range v {
					v[j] = float32(i*cfg.Dimension+j) / float32(n)
				}
				if _, err := e.Insert(0, v); err != nil {
					return fmt.Errorf("generate: insert %d: %w", i, err)
				}
			}
			fmt.Printf("✅ Generated %d vectors in %s\n", n, time.Since(start))
			return nil
		},
	}
	cmd.Flags().Int("count", 1000, "Number of synthetic vectors to generate")
	return cmd
}

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup [path] [dest]",
		Short: "Copy a store's log file (optionally zstd-compressed) to dest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, dst := args[0], args[1]
			compressed, _ := cmd.Flags().GetBool("compress")

			if compressed {
				if err := fsutil.BackupCompressed(src, dst); err != nil {
					return fmt.Errorf("backup: %w", err)
				}
			} else {
				if err := fsutil.Backup(src, dst); err != nil {
					return fmt.Errorf("backup: %w", err)
				}
			}
			fmt.Printf("✅ Backed up %s to %s\n", src, dst)
			return nil
		},
	}
	cmd.Flags().Bool("compress", false, "Write the backup as a zstd-compressed stream")
	return cmd
}

func newRegistryCmd() *cobra.Command {
	registryCmd := &cobra.Command{
		Use:   "registry",
		Short: "Manage the local catalog of named stores",
	}
	registryCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every registered store",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRegistry()
			if err != nil {
				return err
			}
			defer r.Close()

			entries, err := r.List()
			if err != nil {
				return fmt.Errorf("registry list: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("No stores registered.")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%-20s dim=%-5d metric=%-10s %s\n", e.Name, e.Dimension, e.Metric, e.Path)
			}
			return nil
		},
	})
	registryCmd.AddCommand(&cobra.Command{
		Use:   "forget [name]",
		Short: "Remove a store from the catalog (does not touch its files)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRegistry()
			if err != nil {
				return err
			}
			defer r.Close()

			if err := r.Forget(args[0]); err != nil {
				return fmt.Errorf("registry forget: %w", err)
			}
			fmt.Printf("✅ Forgot %q\n", args[0])
			return nil
		},
	})
	return registryCmd
}

// configPathFor returns the sidecar YAML config path for a store file, so
// repeated CLI invocations against the same store agree on its dimension
// and metric without the caller repeating them every time.
func configPathFor(storePath string) string {
	return storePath + ".yaml"
}

func openStore(path string) (*engine.Engine, *config.Config, error) {
	cfg, err := config.LoadFile(configPathFor(path))
	if err != nil {
		return nil, nil, fmt.Errorf("loading config for %s (run \"vectordb create\" first): %w", path, err)
	}
	e, err := engine.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	return e, cfg, nil
}

func registerStore(cfg *config.Config) error {
	r, err := openRegistry()
	if err != nil {
		return err
	}
	defer r.Close()
	return r.Register(registry.Entry{
		Name:      cfg.Name,
		Path:      cfg.Path,
		Dimension: uint32(cfg.Dimension),
		Metric:    cfg.ParsedMetric(),
		CreatedAt: time.Now().Unix(),
	})
}

func openRegistry() (*registry.Registry, error) {
	dataDir, err := os.UserConfigDir()
	if err != nil {
		dataDir = "."
	}
	return registry.Open(registry.Options{DataDir: filepath.Join(dataDir, "vectordb", "registry")})
}

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

func formatVector(v []float32) string {
	b, _ := json.Marshal(v)
	return string(b)
}
