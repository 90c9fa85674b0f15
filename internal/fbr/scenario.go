package fbr

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"
	"time"

	"einvoice/internal/model"

	"gopkg.in/yaml.v3"
)

//go:embed scenarios.yaml
var defaultScenarios []byte

// Scenario is a complete payload template for one regulatory case.
type Scenario struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Category    string         `yaml:"category" json:"category"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Payload     InvoicePayload `yaml:"payload" json:"payload"`
}

// Catalog is an immutable, versioned list of scenarios.
type Catalog struct {
	version   string
	scenarios []Scenario
	byID      map[string]int
}

type catalogFile struct {
	Version   string     `yaml:"version"`
	Scenarios []Scenario `yaml:"scenarios"`
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = ParseCatalog(defaultScenarios)
	})
	return defaultCatalog, defaultErr
}

// ParseCatalog parses a YAML scenario catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse scenario catalog: %w", err)
	}
	if f.Version == "" {
		return nil, fmt.Errorf("scenario catalog has no version")
	}

	c := &Catalog{
		version:   f.Version,
		scenarios: f.Scenarios,
		byID:      make(map[string]int, len(f.Scenarios)),
	}
	for i := range c.scenarios {
		s := &c.scenarios[i]
		if s.ID == "" {
			return nil, fmt.Errorf("scenario #%d has no id", i+1)
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate scenario %s", s.ID)
		}
		if len(s.Payload.Items) == 0 {
			return nil, fmt.Errorf("scenario %s: %w", s.ID, ErrNoItems)
		}
		if s.Payload.InvoiceType == "" {
			s.Payload.InvoiceType = model.DocSaleInvoice
		}
		s.Payload.ScenarioID = s.ID
		c.byID[s.ID] = i
	}
	return c, nil
}

func (c *Catalog) Version() string {
	return c.version
}

func (c *Catalog) Len() int {
	return len(c.scenarios)
}

// All returns the scenarios in catalog order.
func (c *Catalog) All() []Scenario {
	out := make([]Scenario, len(c.scenarios))
	copy(out, c.scenarios)
	return out
}

// SortedByID returns the scenarios ordered by scenario id.
func (c *Catalog) SortedByID() []Scenario {
	out := c.All()
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get looks a scenario up by id.
func (c *Catalog) Get(id string) (Scenario, error) {
	i, ok := c.byID[id]
	if !ok {
		return Scenario{}, fmt.Errorf("%w: %s", ErrUnknownScenario, id)
	}
	return c.scenarios[i], nil
}

// Instantiate fills the template with the seller's identity, the invoice date and a
// reference number. Buyer and item fields stay as the scenario defines them.
func (s Scenario) Instantiate(seller *model.Company, date time.Time, refNo string) (*InvoicePayload, error) {
	if seller == nil || seller.NTN == "" {
		return nil, ErrMissingSellerTaxID
	}
	sp, err := sellerFields(seller)
	if err != nil {
		return nil, err
	}

	p := s.Payload
	p.Items = make([]PayloadItem, len(s.Payload.Items))
	copy(p.Items, s.Payload.Items)

	p.SellerNTNCNIC = sp.taxID
	p.SellerBusinessName = sp.businessName
	p.SellerProvince = sp.province
	p.SellerAddress = sp.address
	p.InvoiceDate = date.Format(dateLayout)
	p.InvoiceRefNo = refNo
	p.ScenarioID = s.ID
	return &p, nil
}
