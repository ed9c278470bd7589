// cmd/tools/menu-seeder/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"order-workers/internal/common/config"
	"order-workers/internal/common/database"
	"order-workers/internal/common/logger"
	"order-workers/internal/models"
	"order-workers/internal/ordering/catalog"
	"order-workers/pkg/menu"
)

var menuPath string

func main() {
	seedCmd := flag.NewFlagSet("seed", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)

	configPath := seedCmd.String("config", "", "Path to config.yaml (default: discovered under configs/)")
	skipIndex := seedCmd.Bool("skip-index", false, "Do not index items into Elasticsearch")
	for _, fs := range []*flag.FlagSet{seedCmd, validateCmd, listCmd} {
		fs.StringVar(&menuPath, "file", "configs/menu.yaml", "Path to menu file")
	}

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "seed":
		seedCmd.Parse(os.Args[2:])
		if err := seed(*configPath, *skipIndex); err != nil {
			fmt.Printf("Seeding failed: %v\n", err)
			os.Exit(1)
		}

	case "validate":
		validateCmd.Parse(os.Args[2:])
		f, err := menu.Load(menuPath)
		if err != nil {
			fmt.Printf("Menu validation failed: %v\n", err)
			os.Exit(1)
		}
		snap := f.Snapshot()
		fmt.Printf("Menu validation passed. Found %d categories and %d items.\n", len(snap.Categories), len(snap.Items))

	case "list":
		listCmd.Parse(os.Args[2:])
		f, err := menu.Load(menuPath)
		if err != nil {
			fmt.Printf("Error loading menu: %v\n", err)
			os.Exit(1)
		}
		list(f.Snapshot())

	case "help":
		fallthrough
	default:
		help()
	}
}

func seed(configPath string, skipIndex bool) error {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)

	f, err := menu.Load(menuPath)
	if err != nil {
		return err
	}
	snap := f.Snapshot()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var source *catalog.SQLCatalog
	switch cfg.Catalog.Source {
	case config.CatalogPostgres:
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		source = catalog.NewPostgresCatalog(pg)
	default:
		sq, err := database.NewSQLite(cfg.Database.SQLite)
		if err != nil {
			return err
		}
		defer sq.Close()
		if err := sq.Migrate(ctx); err != nil {
			return err
		}
		source = catalog.NewSQLiteCatalog(sq)
	}

	if err := source.Seed(ctx, snap); err != nil {
		return err
	}
	log.Info("menu seeded", map[string]interface{}{
		"source":     cfg.Catalog.Source,
		"file":       filepath.Base(menuPath),
		"categories": len(snap.Categories),
		"items":      len(snap.Items),
	})

	if cfg.Catalog.SearchEnabled && !skipIndex {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		created, err := es.EnsureIndex(ctx, cfg.Catalog.SearchIndex, catalog.SearchMapping)
		if err != nil {
			return err
		}
		if created {
			log.Info("search index created", map[string]interface{}{"index": cfg.Catalog.SearchIndex})
		}
		search := catalog.NewSearchCatalog(source, es.Client, cfg.Catalog.SearchIndex, log)
		if err := search.Index(ctx, snap); err != nil {
			return fmt.Errorf("index menu: %w", err)
		}
		log.Info("menu indexed", map[string]interface{}{"index": cfg.Catalog.SearchIndex})
	}

	if cfg.Database.Redis.Address != "" {
		rc, err := database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		defer rc.Close()
		cache := catalog.NewCachedCatalog(source, rc, config.GetDuration(cfg.Catalog.CacheTTL), log)
		if err := cache.Invalidate(ctx); err != nil {
			log.Warn("menu cache invalidation failed", map[string]interface{}{"error": err.Error()})
		} else {
			log.Info("menu cache invalidated", nil)
		}
	}

	fmt.Printf("Seeded %d categories and %d items.\n", len(snap.Categories), len(snap.Items))
	return nil
}

func list(snap models.MenuSnapshot) {
	for _, c := range snap.Categories {
		fmt.Printf("%d. %s / %s\n", c.ID, c.NameEN, c.NameAR)
		for _, it := range snap.Items {
			if it.CategoryID != c.ID {
				continue
			}
			status := ""
			if !it.Available {
				status = " (unavailable)"
			}
			fmt.Printf("   %d  %-24s %-24s %6d IQD%s\n", it.ID, it.NameEN, it.NameAR, it.Price, status)
		}
	}
}

func help() {
	fmt.Print(`
Usage: menu-seeder <command> [flags]

Commands:
  seed      Load the menu file into the catalog database, the search index and clear the cache
  validate  Validate the menu file
  list      Print the menu file
  help      Show this help message

Examples:
  menu-seeder validate -file configs/menu.yaml
  menu-seeder seed -file configs/menu.yaml -config configs/config.yaml
  menu-seeder list

Use 'menu-seeder <command> -h' for more information about a command.
` + "\n")
}
