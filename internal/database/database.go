package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/keyplane/control-plane/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init() error {
	dbPath := config.Cfg.DatabasePath
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := Migrate(DB); err != nil {
		return err
	}

	if err := seedProducts(); err != nil {
		return fmt.Errorf("seed products: %w", err)
	}

	return nil
}

// Migrate runs schema auto-migration on db. Exposed so tests can migrate
// in-memory databases the same way Init does.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&User{}, &Team{}, &Product{}, &TeamProduct{},
		&Region{}, &RegionTeam{}, &PrivateAIKey{},
		&LimitedResource{}, &Setting{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// seedProducts loads the yaml catalog (when configured) and upserts each
// product by name. Existing products keep their id; values are refreshed so
// catalog edits take effect on restart.
func seedProducts() error {
	specs, err := config.LoadProductCatalog(config.Cfg.ProductCatalogPath)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		product := Product{
			Name:              spec.Name,
			MaxBudgetPerKey:   spec.MaxBudgetPerKey,
			RPMPerKey:         spec.RPMPerKey,
			VectorDBCount:     spec.VectorDBCount,
			VectorDBStorageGB: spec.VectorDBStorageGB,
			UserCount:         spec.UserCount,
			KeyCount:          spec.KeyCount,
		}
		if err := DB.Where("name = ?", spec.Name).
			Assign(product).
			FirstOrCreate(&Product{}).Error; err != nil {
			return fmt.Errorf("seed product %s: %w", spec.Name, err)
		}
	}
	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	return DB.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

// User helpers

func GetUserByEmail(email string) (*User, error) {
	var u User
	if err := DB.Where("email = ?", email).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func GetUserByID(id uint) (*User, error) {
	var u User
	if err := DB.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func CreateUser(user *User) error {
	return DB.Create(user).Error
}

func DeleteUser(id uint) error {
	DB.Where("owner_type = ? AND owner_id = ?", "user", id).Delete(&LimitedResource{})
	return DB.Delete(&User{}, id).Error
}

func UpdateUserPassword(id uint, hash string) error {
	return DB.Model(&User{}).Where("id = ?", id).Update("password_hash", hash).Error
}

func ListUsers() ([]User, error) {
	var users []User
	if err := DB.Order("id").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func GetFirstSystemAdmin() (*User, error) {
	var u User
	if err := DB.Where("is_admin = ?", true).Order("id").First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// Team helpers

func GetTeamByID(id uint) (*Team, error) {
	var t Team
	if err := DB.First(&t, id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func ListTeamMemberIDs(teamID uint) ([]uint, error) {
	var members []User
	if err := DB.Where("team_id = ?", teamID).Find(&members).Error; err != nil {
		return nil, err
	}
	ids := make([]uint, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	return ids, nil
}

// DeleteTeam cascades to membership, limit rows and product/region
// associations. Provisioned keys must be torn down first by the caller.
func DeleteTeam(id uint) error {
	DB.Model(&User{}).Where("team_id = ?", id).Update("team_id", nil)
	DB.Where("team_id = ?", id).Delete(&TeamProduct{})
	DB.Where("team_id = ?", id).Delete(&RegionTeam{})
	DB.Where("owner_type = ? AND owner_id = ?", "team", id).Delete(&LimitedResource{})
	return DB.Delete(&Team{}, id).Error
}

// GetTeamProducts returns the products attached to a team in attach order.
func GetTeamProducts(teamID uint) ([]Product, error) {
	var joins []TeamProduct
	if err := DB.Where("team_id = ?", teamID).Find(&joins).Error; err != nil {
		return nil, err
	}
	products := make([]Product, 0, len(joins))
	for _, j := range joins {
		var p Product
		if err := DB.First(&p, j.ProductID).Error; err != nil {
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

func AttachProductToTeam(teamID, productID uint) error {
	var count int64
	DB.Model(&TeamProduct{}).Where("team_id = ? AND product_id = ?", teamID, productID).Count(&count)
	if count > 0 {
		return nil
	}
	return DB.Create(&TeamProduct{TeamID: teamID, ProductID: productID}).Error
}

func DetachProductFromTeam(teamID, productID uint) error {
	return DB.Where("team_id = ? AND product_id = ?", teamID, productID).Delete(&TeamProduct{}).Error
}

// Region helpers

func GetRegionByID(id uint) (*Region, error) {
	var region Region
	if err := DB.First(&region, id).Error; err != nil {
		return nil, err
	}
	return &region, nil
}

func IsTeamAssignedToRegion(regionID, teamID uint) bool {
	var count int64
	DB.Model(&RegionTeam{}).Where("region_id = ? AND team_id = ?", regionID, teamID).Count(&count)
	return count > 0
}

// Key helpers

func GetPrivateAIKeyByID(id uint) (*PrivateAIKey, error) {
	var key PrivateAIKey
	if err := DB.First(&key, id).Error; err != nil {
		return nil, err
	}
	return &key, nil
}
