package sqlite

import (
	"context"

	"github.com/warp/replenishment-engine/workflow"
)

// Seed loads demo directory data for local development: two branches, a
// small product catalog and one user per role. Idempotent; safe to run on
// every start.
func Seed(ctx context.Context, s *Store) error {
	branches := []workflow.BranchRef{
		{ID: "branch-north", Name: "North Branch", Code: "BR-N"},
		{ID: "branch-south", Name: "South Branch", Code: "BR-S"},
	}
	for _, b := range branches {
		if err := s.SaveBranch(ctx, b); err != nil {
			return err
		}
	}

	products := []workflow.ProductRef{
		{ID: "prod-espresso", Code: "SKU-1001", Name: "Espresso Beans 1kg", Quantity: 240},
		{ID: "prod-oatmilk", Code: "SKU-1002", Name: "Oat Milk 1L", Quantity: 520},
		{ID: "prod-cups12", Code: "SKU-1003", Name: "Paper Cups 12oz", Quantity: 3000},
		{ID: "prod-syrup", Code: "SKU-1004", Name: "Vanilla Syrup 750ml", Quantity: 96},
	}
	for _, p := range products {
		if err := s.SaveProduct(ctx, p); err != nil {
			return err
		}
	}

	users := []workflow.UserRef{
		{ID: "user-staff-north", Name: "Ayu Lestari", Email: "ayu@example.com", Role: workflow.RoleStaff, BranchID: "branch-north", Active: true},
		{ID: "user-staff-south", Name: "Bima Putra", Email: "bima@example.com", Role: workflow.RoleStaff, BranchID: "branch-south", Active: true},
		{ID: "user-admin-north", Name: "Citra Dewi", Email: "citra@example.com", Role: workflow.RoleAdminBrand, BranchID: "branch-north", Active: true},
		{ID: "user-admin-sys", Name: "Dian Saputra", Email: "dian@example.com", Role: workflow.RoleAdminSystem, Active: true},
		{ID: "user-logistics", Name: "Eko Wijaya", Email: "eko@example.com", Role: workflow.RoleLogistics, Active: true},
	}
	for _, u := range users {
		if err := s.SaveUser(ctx, u); err != nil {
			return err
		}
	}
	return nil
}
