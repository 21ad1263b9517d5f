// Package testdata is the built-in catalog used when the backend is
// unreachable or returns an empty menu. It keeps every screen renderable
// without a live API.
package testdata

import "lunch-tg-app/internal/models"

var Buildings = []models.Building{
	{ID: 1, Name: "БЦ «Западный»", Address: "ул. Строителей, 12"},
	{ID: 2, Name: "БЦ «Набережная»", Address: "Набережная, 4"},
}

var Restaurants = []models.Restaurant{
	{
		ID: 1, Name: "Кухня на районе", Cuisine: "Домашняя кухня",
		Rating: 4.6, EtaMinutes: 25, PriceLevel: "₽₽", CoverEmoji: "🍲",
		BuildingIDs: []int64{1, 2},
	},
	{
		ID: 2, Name: "Зелёный боул", Cuisine: "Здоровая еда",
		Rating: 4.8, EtaMinutes: 30, PriceLevel: "₽₽", CoverEmoji: "🥗",
		BuildingIDs: []int64{1},
	},
}

var MenuItems = []models.MenuItem{
	{ID: 101, RestaurantID: 1, Name: "Борщ с говядиной", Description: "С чесночной пампушкой", Price: 290, Unit: "1 порция", Category: "Супы", Emoji: "🥣"},
	{ID: 102, RestaurantID: 1, Name: "Котлета с пюре", Description: "Куриная котлета, картофельное пюре", Price: 340, Unit: "1 порция", Category: "Горячее", Emoji: "🍲"},
	{ID: 103, RestaurantID: 1, Name: "Оливье", Description: "Классический, с курицей", Price: 220, Unit: "1 порция", Category: "Салаты", Emoji: "🥗"},
	{ID: 104, RestaurantID: 1, Name: "Морс клюквенный", Description: "0.4 л", Price: 120, Unit: "1 порция", Category: "Напитки", Emoji: "🥤"},
	{ID: 201, RestaurantID: 2, Name: "Боул с лососем", Description: "Киноа, авокадо, лосось", Price: 520, Unit: "1 порция", Category: "Боулы", Emoji: "🥙"},
	{ID: 202, RestaurantID: 2, Name: "Боул с нутом", Description: "Нут, овощи, тахини", Price: 380, Unit: "1 порция", Category: "Боулы", Emoji: "🥙"},
}

// ForBuilding filters the catalog down to one building.
func ForBuilding(buildingID int64) (restaurants []models.Restaurant, items []models.MenuItem) {
	for _, restaurant := range Restaurants {
		for _, id := range restaurant.BuildingIDs {
			if id == buildingID {
				restaurants = append(restaurants, restaurant)
				break
			}
		}
	}
	for _, item := range MenuItems {
		for _, restaurant := range restaurants {
			if item.RestaurantID == restaurant.ID {
				items = append(items, item)
				break
			}
		}
	}
	return restaurants, items
}
