package fees

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/telvault/escrow/pkg/models"
)

// TraderLevel is a derived loyalty classification. It is never persisted;
// it is recomputed from the user's completed-trade count and reputation
// score whenever a fee is quoted.
type TraderLevel struct {
	Name            string
	MinTrades       int
	MinReputation   decimal.Decimal // zero means no reputation requirement
	DiscountPercent decimal.Decimal // fraction of the fee waived, in [0,1)
}

// traderLevels is ordered by descending trade threshold; the first
// qualifying level wins.
var traderLevels = []TraderLevel{
	{Name: "Master Trader", MinTrades: 100, MinReputation: decimal.RequireFromString("4.8"), DiscountPercent: decimal.RequireFromString("0.50")},
	{Name: "Elite Trader", MinTrades: 50, MinReputation: decimal.RequireFromString("4.7"), DiscountPercent: decimal.RequireFromString("0.40")},
	{Name: "Trusted Trader", MinTrades: 25, MinReputation: decimal.RequireFromString("4.5"), DiscountPercent: decimal.RequireFromString("0.30")},
	{Name: "Experienced Trader", MinTrades: 10, DiscountPercent: decimal.RequireFromString("0.20")},
	{Name: "Active Trader", MinTrades: 5, DiscountPercent: decimal.RequireFromString("0.10")},
	{Name: "New Trader", MinTrades: 1, DiscountPercent: decimal.Zero},
	{Name: "New User", MinTrades: 0, DiscountPercent: decimal.Zero},
}

// DefaultLevel is the zero-discount fallback applied on any lookup failure
func DefaultLevel() TraderLevel {
	return traderLevels[len(traderLevels)-1]
}

// ResolveLevel returns the highest tier the given history qualifies for.
// Tiers at or above 25 trades additionally require a minimum reputation.
func ResolveLevel(completedTrades int, reputation decimal.Decimal) TraderLevel {
	for _, level := range traderLevels {
		if completedTrades < level.MinTrades {
			continue
		}
		if level.MinReputation.IsPositive() && reputation.LessThan(level.MinReputation) {
			continue
		}
		return level
	}
	return DefaultLevel()
}

// LevelResolver loads a user's trading history and maps it to a tier
type LevelResolver struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewLevelResolver creates a trader level resolver
func NewLevelResolver(logger *zap.Logger, db *gorm.DB) *LevelResolver {
	return &LevelResolver{logger: logger, db: db}
}

// Resolve returns the user's trader level. Lookup failures map to the
// zero-discount default: a missing or unreadable history must never grant
// a discount and must never block a trade.
func (r *LevelResolver) Resolve(ctx context.Context, userID uuid.UUID) TraderLevel {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		r.logger.Warn("trader level lookup failed, using default",
			zap.String("user_id", userID.String()), zap.Error(err))
		return DefaultLevel()
	}
	return ResolveLevel(user.CompletedTrades, user.ReputationScore)
}
