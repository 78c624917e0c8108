// Package category maps free-text cloud service names to infrastructure categories.
package category

import (
	"strings"
	"sync"

	"github.com/kannan-ms/cloudCostAnalytics/internal/models"
)

// Rule maps a lowercase substring keyword to a category.
type Rule struct {
	Keyword  string
	Category models.Category
}

// Cache memoizes normalized service names to categories.
type Cache interface {
	Get(key string) (models.Category, bool)
	Put(key string, c models.Category)
}

// MapCache is a concurrency-safe in-memory Cache.
type MapCache struct {
	mu sync.RWMutex
	m  map[string]models.Category
}

func NewMapCache() *MapCache {
	return &MapCache{m: make(map[string]models.Category)}
}

func (c *MapCache) Get(key string) (models.Category, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cat, ok := c.m[key]
	return cat, ok
}

func (c *MapCache) Put(key string, cat models.Category) {
	c.mu.Lock()
	c.m[key] = cat
	c.mu.Unlock()
}

// Len returns the number of cached names.
func (c *MapCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// Mapper resolves service names by scanning ordered keyword rules; the first match wins.
type Mapper struct {
	rules []Rule
	cache Cache
}

// NewMapper returns a Mapper over DefaultRules. A nil cache gets a fresh MapCache.
func NewMapper(cache Cache) *Mapper {
	return NewMapperWithRules(DefaultRules(), cache)
}

// NewMapperWithRules returns a Mapper over rules in the given order.
func NewMapperWithRules(rules []Rule, cache Cache) *Mapper {
	if cache == nil {
		cache = NewMapCache()
	}
	return &Mapper{rules: rules, cache: cache}
}

// CategoryOf returns the category for serviceName, or CategoryOther when nothing matches.
func (m *Mapper) CategoryOf(serviceName string) models.Category {
	key := strings.ToLower(strings.TrimSpace(serviceName))
	if key == "" {
		return models.CategoryOther
	}
	if cat, ok := m.cache.Get(key); ok {
		return cat
	}
	cat := models.CategoryOther
	for _, r := range m.rules {
		if strings.Contains(key, r.Keyword) {
			cat = r.Category
			break
		}
	}
	m.cache.Put(key, cat)
	return cat
}

// DefaultRules returns the multi-cloud keyword table. Specific keywords precede generic
// ones ("ec2" before "storage") because matching is by substring.
func DefaultRules() []Rule {
	rules := make([]Rule, len(defaultRules))
	copy(rules, defaultRules)
	return rules
}

var defaultRules = []Rule{
	// Compute
	{"ec2", models.CategoryCompute},
	{"elastic compute", models.CategoryCompute},
	{"virtual machines", models.CategoryCompute},
	{"compute engine", models.CategoryCompute},
	{"lambda", models.CategoryCompute},
	{"azure functions", models.CategoryCompute},
	{"cloud functions", models.CategoryCompute},
	{"functions", models.CategoryCompute},
	{"app service", models.CategoryCompute},
	{"app engine", models.CategoryCompute},
	{"container instances", models.CategoryCompute},
	{"container apps", models.CategoryCompute},
	{"kubernetes", models.CategoryCompute},
	{"ecs", models.CategoryCompute},
	{"eks", models.CategoryCompute},
	{"cloud run", models.CategoryCompute},
	{"vm scale sets", models.CategoryCompute},
	{"lightsail", models.CategoryCompute},
	{"batch", models.CategoryCompute},
	{"fargate", models.CategoryCompute},
	{"microsoft.compute", models.CategoryCompute},
	{"microsoft.web", models.CategoryCompute},

	// Storage
	{"s3", models.CategoryStorage},
	{"blob storage", models.CategoryStorage},
	{"disk storage", models.CategoryStorage},
	{"persistent disk", models.CategoryStorage},
	{"backup vault", models.CategoryStorage},
	{"backup", models.CategoryStorage},
	{"file storage", models.CategoryStorage},
	{"filestore", models.CategoryStorage},
	{"netapp", models.CategoryStorage},
	{"glacier", models.CategoryStorage},
	{"ebs", models.CategoryStorage},
	{"storage gateway", models.CategoryStorage},
	{"cloud storage", models.CategoryStorage},
	{"microsoft.storage", models.CategoryStorage},
	{"storage", models.CategoryStorage},

	// Database
	{"relational database", models.CategoryDatabase},
	{"rds", models.CategoryDatabase},
	{"sql database", models.CategoryDatabase},
	{"azure sql", models.CategoryDatabase},
	{"cloud sql", models.CategoryDatabase},
	{"cosmos db", models.CategoryDatabase},
	{"dynamodb", models.CategoryDatabase},
	{"redshift", models.CategoryDatabase},
	{"postgresql", models.CategoryDatabase},
	{"mysql", models.CategoryDatabase},
	{"mariadb", models.CategoryDatabase},
	{"elasticache", models.CategoryDatabase},
	{"redis cache", models.CategoryDatabase},
	{"firestore", models.CategoryDatabase},
	{"bigtable", models.CategoryDatabase},
	{"bigquery", models.CategoryDatabase},
	{"spanner", models.CategoryDatabase},
	{"memorystore", models.CategoryDatabase},
	{"aurora", models.CategoryDatabase},
	{"neptune", models.CategoryDatabase},
	{"microsoft.sql", models.CategoryDatabase},
	{"microsoft.dbforpostgresql", models.CategoryDatabase},
	{"microsoft.dbformysql", models.CategoryDatabase},
	{"microsoft.documentdb", models.CategoryDatabase},

	// Networking
	{"load balancer", models.CategoryNetworking},
	{"virtual private cloud", models.CategoryNetworking},
	{"vpc", models.CategoryNetworking},
	{"virtual network", models.CategoryNetworking},
	{"azure dns", models.CategoryNetworking},
	{"cloud dns", models.CategoryNetworking},
	{"route 53", models.CategoryNetworking},
	{"cloud cdn", models.CategoryNetworking},
	{"cloudfront", models.CategoryNetworking},
	{"front door", models.CategoryNetworking},
	{"content delivery", models.CategoryNetworking},
	{"firewall", models.CategoryNetworking},
	{"application gateway", models.CategoryNetworking},
	{"api gateway", models.CategoryNetworking},
	{"vpn gateway", models.CategoryNetworking},
	{"bandwidth", models.CategoryNetworking},
	{"network watcher", models.CategoryNetworking},
	{"cloud nat", models.CategoryNetworking},
	{"cloud interconnect", models.CategoryNetworking},
	{"cloud load balancing", models.CategoryNetworking},
	{"elastic load balancing", models.CategoryNetworking},
	{"microsoft.network", models.CategoryNetworking},
	{"dns", models.CategoryNetworking},

	// Management
	{"azure monitor", models.CategoryManagement},
	{"cloudwatch", models.CategoryManagement},
	{"cloud monitoring", models.CategoryManagement},
	{"cloud logging", models.CategoryManagement},
	{"cloudtrail", models.CategoryManagement},
	{"log analytics", models.CategoryManagement},
	{"insight and analytics", models.CategoryManagement},
	{"automation", models.CategoryManagement},
	{"devops", models.CategoryManagement},

	// Security
	{"key vault", models.CategorySecurity},
	{"security center", models.CategorySecurity},
	{"azure defender", models.CategorySecurity},
	{"threat protection", models.CategorySecurity},
	{"identity and access management", models.CategorySecurity},
	{"iam", models.CategorySecurity},
	{"guardduty", models.CategorySecurity},
	{"security command center", models.CategorySecurity},
	{"microsoft.keyvault", models.CategorySecurity},

	// Management catch-alls
	{"aws config", models.CategoryManagement},
	{"systems manager", models.CategoryManagement},
	{"trusted advisor", models.CategoryManagement},
}
