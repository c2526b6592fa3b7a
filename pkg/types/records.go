// Package types holds the records shared by the cache, store and service packages.
package types

// Shop is a merchant record. It is the main record type served through the
// read-through cache and the geo paginator.
type Shop struct {
	ID        int64   `json:"id" firestore:"id"`
	Name      string  `json:"name" firestore:"name"`
	TypeID    int64   `json:"typeId" firestore:"typeId"`
	Address   string  `json:"address,omitempty" firestore:"address"`
	Longitude float64 `json:"x" firestore:"x"`
	Latitude  float64 `json:"y" firestore:"y"`
	AvgPrice  int64   `json:"avgPrice,omitempty" firestore:"avgPrice"`
	Score     int     `json:"score,omitempty" firestore:"score"`
}

// ShopType is a shop category, listed in display order.
type ShopType struct {
	ID   int64  `json:"id" firestore:"id"`
	Name string `json:"name" firestore:"name"`
	Icon string `json:"icon,omitempty" firestore:"icon"`
	Sort int    `json:"sort" firestore:"sort"`
}

// Location is a point used to seed the geo index for a category.
type Location struct {
	ID        int64   `json:"id"`
	Category  int64   `json:"category"`
	Longitude float64 `json:"x"`
	Latitude  float64 `json:"y"`
}

// ShopLocation returns the geo index entry for a shop.
func ShopLocation(s Shop) Location {
	return Location{ID: s.ID, Category: s.TypeID, Longitude: s.Longitude, Latitude: s.Latitude}
}

// User is the full persisted user record.
type User struct {
	ID       int64  `json:"id" firestore:"id"`
	Phone    string `json:"phone" firestore:"phone"`
	NickName string `json:"nickName" firestore:"nickName"`
	Icon     string `json:"icon,omitempty" firestore:"icon"`
}

// UserProfile is the public view of a user.
type UserProfile struct {
	ID       int64  `json:"id"`
	NickName string `json:"nickName"`
	Icon     string `json:"icon,omitempty"`
}

// NewUserProfile maps a User onto its public profile.
func NewUserProfile(u User) UserProfile {
	return UserProfile{
		ID:       u.ID,
		NickName: u.NickName,
		Icon:     u.Icon,
	}
}

// FollowEdge records that UserID follows FollowUserID.
type FollowEdge struct {
	UserID       int64 `json:"userId" firestore:"userId"`
	FollowUserID int64 `json:"followUserId" firestore:"followUserId"`
}
