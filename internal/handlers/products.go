package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/keyplane/control-plane/internal/database"
	"github.com/go-chi/chi/v5"
)

func productResponse(p *database.Product) map[string]interface{} {
	return map[string]interface{}{
		"id":                   p.ID,
		"name":                 p.Name,
		"max_budget_per_key":   p.MaxBudgetPerKey,
		"rpm_per_key":          p.RPMPerKey,
		"vector_db_count":      p.VectorDBCount,
		"vector_db_storage_gb": p.VectorDBStorageGB,
		"user_count":           p.UserCount,
		"key_count":            p.KeyCount,
	}
}

func ListProducts(w http.ResponseWriter, r *http.Request) {
	var products []database.Product
	if err := database.DB.Order("id").Find(&products).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list products")
		return
	}
	result := make([]map[string]interface{}, 0, len(products))
	for i := range products {
		result = append(result, productResponse(&products[i]))
	}
	writeJSON(w, http.StatusOK, result)
}

func GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "productId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}
	var product database.Product
	if err := database.DB.First(&product, id).Error; err != nil {
		writeError(w, http.StatusNotFound, "Product not found")
		return
	}
	writeJSON(w, http.StatusOK, productResponse(&product))
}

func CreateProduct(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name              string  `json:"name"`
		MaxBudgetPerKey   float64 `json:"max_budget_per_key"`
		RPMPerKey         float64 `json:"rpm_per_key"`
		VectorDBCount     float64 `json:"vector_db_count"`
		VectorDBStorageGB float64 `json:"vector_db_storage_gb"`
		UserCount         float64 `json:"user_count"`
		KeyCount          float64 `json:"key_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}
	product := database.Product{
		Name:              body.Name,
		MaxBudgetPerKey:   body.MaxBudgetPerKey,
		RPMPerKey:         body.RPMPerKey,
		VectorDBCount:     body.VectorDBCount,
		VectorDBStorageGB: body.VectorDBStorageGB,
		UserCount:         body.UserCount,
		KeyCount:          body.KeyCount,
	}
	if err := database.DB.Create(&product).Error; err != nil {
		writeError(w, http.StatusConflict, "Product name already exists")
		return
	}
	writeJSON(w, http.StatusCreated, productResponse(&product))
}

func DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "productId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}
	var attached int64
	database.DB.Model(&database.TeamProduct{}).Where("product_id = ?", id).Count(&attached)
	if attached > 0 {
		writeError(w, http.StatusConflict, "Product is still attached to teams")
		return
	}
	if err := database.DB.Delete(&database.Product{}, id).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete product")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Product deleted"})
}
