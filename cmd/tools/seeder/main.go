package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	seedProducts(db)
	seedCombos(db)

	log.Println("Seeding completed successfully!")
}

func seedProducts(db *sql.DB) {
	products := []struct {
		Name     string
		Category string
		Price    int64
	}{
		{"Bánh mì thịt nướng", "Đồ ăn", 25000},
		{"Xôi gà xé", "Đồ ăn", 30000},
		{"Cơm tấm sườn bì", "Đồ ăn", 45000},
		{"Gỏi cuốn tôm thịt", "Đồ ăn", 20000},
		{"Trà sữa trân châu", "Đồ uống", 35000},
		{"Cà phê sữa đá", "Đồ uống", 25000},
		{"Nước cam vắt", "Đồ uống", 30000},
		{"Trà đào cam sả", "Đồ uống", 32000},
		{"Chè khúc bạch", "Tráng miệng", 28000},
		{"Bánh flan", "Tráng miệng", 15000},
		{"Rau câu dừa", "Tráng miệng", 12000},
	}

	fmt.Println("Seeding Products...")
	for _, p := range products {
		_, err := db.Exec(`
			INSERT INTO products (name, category, price, active)
			VALUES ($1, $2, $3, true);
		`, p.Name, p.Category, p.Price)
		if err != nil {
			log.Printf("Failed to seed product %s: %v", p.Name, err)
		}
	}
}

func seedCombos(db *sql.DB) {
	type requirement struct {
		Category string `json:"category"`
		Qty      int    `json:"qty"`
	}
	combos := []struct {
		Name         string
		Price        int64
		Priority     int
		Requirements []requirement
	}{
		{"Combo no nê", 60000, 10, []requirement{{"Đồ ăn", 2}, {"Đồ uống", 1}}},
		{"Combo đôi bạn", 95000, 5, []requirement{{"Đồ ăn", 2}, {"Đồ uống", 2}}},
		{"Combo tráng miệng", 38000, 1, []requirement{{"Đồ uống", 1}, {"Tráng miệng", 1}}},
	}

	fmt.Println("Seeding Combos...")
	for _, c := range combos {
		reqs, err := json.Marshal(c.Requirements)
		if err != nil {
			log.Printf("Failed to encode requirements for %s: %v", c.Name, err)
			continue
		}
		_, err = db.Exec(`
			INSERT INTO combos (name, price, priority, requirements, active)
			VALUES ($1, $2, $3, $4, true);
		`, c.Name, c.Price, c.Priority, reqs)
		if err != nil {
			log.Printf("Failed to seed combo %s: %v", c.Name, err)
		}
	}
}
