package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"order-workers/internal/models"
)

// SearchMapping is the index mapping for menu item documents. Names are
// analyzed for fuzzy matching; the rest are exact filters.
const SearchMapping = `{
  "mappings": {
    "properties": {
      "id":         {"type": "long"},
      "categoryId": {"type": "integer"},
      "nameAr":     {"type": "text", "analyzer": "arabic"},
      "nameEn":     {"type": "text", "analyzer": "english"},
      "price":      {"type": "integer"},
      "available":  {"type": "boolean"}
    }
  }
}`

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

// SearchCatalog adds fuzzy name search on top of a base catalog. The base
// match runs first; the index is consulted only on a miss, and any search
// failure degrades to that miss.
type SearchCatalog struct {
	base   Catalog
	client *elasticsearch.Client
	index  string
	logger Logger
}

func NewSearchCatalog(base Catalog, client *elasticsearch.Client, index string, log Logger) *SearchCatalog {
	if index == "" {
		index = "menu_items"
	}
	return &SearchCatalog{base: base, client: client, index: index, logger: log}
}

func (c *SearchCatalog) Menu(ctx context.Context) (models.MenuSnapshot, error) {
	return c.base.Menu(ctx)
}

func (c *SearchCatalog) Lookup(ctx context.Context, candidate string, categoryID int) (models.MenuItem, bool, error) {
	item, ok, err := c.base.Lookup(ctx, candidate, categoryID)
	if err != nil || ok {
		return item, ok, err
	}

	item, ok, err = c.search(ctx, candidate, categoryID)
	if err != nil {
		c.logger.Warn("menu search failed", map[string]interface{}{
			"candidate": candidate,
			"index":     c.index,
			"error":     err.Error(),
		})
		return models.MenuItem{}, false, nil
	}
	if ok {
		c.logger.Debug("menu search matched", map[string]interface{}{
			"candidate": candidate,
			"itemId":    item.ID,
		})
	}
	return item, ok, nil
}

func buildSearchQuery(candidate string, categoryID int) map[string]interface{} {
	clause := map[string]interface{}{
		"must": []interface{}{
			map[string]interface{}{
				"multi_match": map[string]interface{}{
					"query":     candidate,
					"fields":    []string{"nameAr", "nameEn"},
					"fuzziness": "AUTO",
					"operator":  "or",
				},
			},
		},
		"filter": []interface{}{
			map[string]interface{}{"term": map[string]interface{}{"available": true}},
		},
	}
	if categoryID > 0 {
		clause["should"] = []interface{}{
			map[string]interface{}{"term": map[string]interface{}{"categoryId": categoryID}},
		}
	}
	return map[string]interface{}{
		"query": map[string]interface{}{"bool": clause},
		"size":  1,
	}
}

func (c *SearchCatalog) search(ctx context.Context, candidate string, categoryID int) (models.MenuItem, bool, error) {
	body, err := json.Marshal(buildSearchQuery(candidate, categoryID))
	if err != nil {
		return models.MenuItem{}, false, err
	}

	req := esapi.SearchRequest{
		Index: []string{c.index},
		Body:  strings.NewReader(string(body)),
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return models.MenuItem{}, false, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return models.MenuItem{}, false, fmt.Errorf("elasticsearch error: %s", res.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source models.MenuItem `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return models.MenuItem{}, false, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Hits.Hits) == 0 {
		return models.MenuItem{}, false, nil
	}
	item := result.Hits.Hits[0].Source
	if !item.Available {
		return models.MenuItem{}, false, nil
	}
	return item, true, nil
}

// Index writes every item of snap into the search index, replacing
// documents by item ID.
func (c *SearchCatalog) Index(ctx context.Context, snap models.MenuSnapshot) error {
	for _, it := range snap.Items {
		doc, err := json.Marshal(it)
		if err != nil {
			return err
		}
		req := esapi.IndexRequest{
			Index:      c.index,
			DocumentID: strconv.FormatInt(it.ID, 10),
			Body:       strings.NewReader(string(doc)),
		}
		res, err := req.Do(ctx, c.client)
		if err != nil {
			return fmt.Errorf("index item %d: %w", it.ID, err)
		}
		failed := res.IsError()
		status := res.String()
		res.Body.Close()
		if failed {
			return fmt.Errorf("index item %d: %s", it.ID, status)
		}
	}

	req := esapi.IndicesRefreshRequest{Index: []string{c.index}}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("refresh index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("refresh index: %s", res.String())
	}
	return nil
}
