package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/farm-checkout/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	cartsCollection  = "carts"
	buyersCollection = "buyers"
	cartTTL          = 90 * 24 * time.Hour
)

type buyerDocument struct {
	BuyerID   string                   `bson:"buyer_id"`
	Addresses []domain.ShippingAddress `bson:"addresses"`
	OrderIDs  []string                 `bson:"order_ids"`
	UpdatedAt time.Time                `bson:"updated_at"`
}

type MongoRepository struct {
	carts  *mongo.Collection
	buyers *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		carts:  db.Collection(cartsCollection),
		buyers: db.Collection(buyersCollection),
	}
}

func (m *MongoRepository) GetCart(ctx context.Context, buyerID string) (*domain.Cart, error) {
	var cart domain.Cart
	err := m.carts.FindOne(ctx, bson.M{"buyer_id": buyerID}).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return &cart, nil
}

// SetItem sets the quantity of a product in the buyer's cart, creating the
// cart or the line when missing. Existing lines keep their cart position.
func (m *MongoRepository) SetItem(ctx context.Context, buyerID string, entry domain.CartEntry) error {
	now := time.Now().UTC()
	entry.AddedAt = now

	res, err := m.carts.UpdateOne(ctx,
		bson.M{"buyer_id": buyerID, "items.product_id": entry.ProductID},
		bson.M{"$set": bson.M{
			"items.$.quantity": entry.Quantity,
			"updated_at":       now,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update cart item: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	_, err = m.carts.UpdateOne(ctx,
		bson.M{"buyer_id": buyerID},
		bson.M{
			"$push":        bson.M{"items": entry},
			"$set":         bson.M{"updated_at": now},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to add cart item: %w", err)
	}
	return nil
}

func (m *MongoRepository) RemoveCartLines(ctx context.Context, buyerID string, productIDs []string) error {
	if len(productIDs) == 0 {
		return nil
	}
	_, err := m.carts.UpdateOne(ctx,
		bson.M{"buyer_id": buyerID},
		bson.M{
			"$pull": bson.M{"items": bson.M{"product_id": bson.M{"$in": productIDs}}},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to remove cart lines: %w", err)
	}
	return nil
}

// DeleteCart treats a missing cart as already cleared.
func (m *MongoRepository) DeleteCart(ctx context.Context, buyerID string) error {
	if _, err := m.carts.DeleteOne(ctx, bson.M{"buyer_id": buyerID}); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

func (m *MongoRepository) GetAddresses(ctx context.Context, buyerID string) ([]domain.ShippingAddress, error) {
	doc, err := m.getBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if doc.Addresses == nil {
		return []domain.ShippingAddress{}, nil
	}
	return doc.Addresses, nil
}

// AddAddress appends to the address book, creating the buyer record on first
// use. A new default address clears the flag on the others.
func (m *MongoRepository) AddAddress(ctx context.Context, buyerID string, addr domain.ShippingAddress) (domain.ShippingAddress, error) {
	if addr.ID == "" {
		addr.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	if addr.IsDefault {
		_, err := m.buyers.UpdateOne(ctx,
			bson.M{"buyer_id": buyerID, "addresses.0": bson.M{"$exists": true}},
			bson.M{"$set": bson.M{"addresses.$[].is_default": false}},
		)
		if err != nil {
			return domain.ShippingAddress{}, fmt.Errorf("failed to reset default address: %w", err)
		}
	}

	_, err := m.buyers.UpdateOne(ctx,
		bson.M{"buyer_id": buyerID},
		bson.M{
			"$push": bson.M{"addresses": addr},
			"$set":  bson.M{"updated_at": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return domain.ShippingAddress{}, fmt.Errorf("failed to add address: %w", err)
	}
	return addr, nil
}

// AppendOrderID links an order to the buyer's history. Replays are no-ops.
func (m *MongoRepository) AppendOrderID(ctx context.Context, buyerID, orderID string) error {
	_, err := m.buyers.UpdateOne(ctx,
		bson.M{"buyer_id": buyerID},
		bson.M{
			"$addToSet": bson.M{"order_ids": orderID},
			"$set":      bson.M{"updated_at": time.Now().UTC()},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to append order id: %w", err)
	}
	return nil
}

func (m *MongoRepository) GetOrderIDs(ctx context.Context, buyerID string) ([]string, error) {
	doc, err := m.getBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	return doc.OrderIDs, nil
}

func (m *MongoRepository) getBuyer(ctx context.Context, buyerID string) (*buyerDocument, error) {
	var doc buyerDocument
	err := m.buyers.FindOne(ctx, bson.M{"buyer_id": buyerID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrBuyerNotFound
		}
		return nil, fmt.Errorf("failed to get buyer: %w", err)
	}
	return &doc, nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	cartIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "buyer_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(cartTTL.Seconds())),
		},
	}
	if _, err := m.carts.Indexes().CreateMany(ctx, cartIndexes); err != nil {
		return fmt.Errorf("failed to create cart indexes: %w", err)
	}

	_, err := m.buyers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "buyer_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create buyer indexes: %w", err)
	}
	return nil
}
