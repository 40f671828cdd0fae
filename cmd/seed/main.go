package main

import (
	"context"
	"flag"
	"fmt"

	"marketplace-server-go/internal/common"
	"marketplace-server-go/internal/config"
	"marketplace-server-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	fixturesFile := flag.String("fixtures", "fixtures.yaml", "Path to the YAML fixtures file with apps, users and offers")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx := context.Background()

	fixtures, err := common.LoadFixtures(*fixturesFile)
	if err != nil {
		zap.L().Fatal("Failed to load fixtures", zap.Error(err))
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	common.PrintHeader("Seeding marketplace fixtures", common.DefaultWidth)

	for _, app := range fixtures.Apps {
		err := dbService.InsertApp(ctx, &models.App{
			Id:                app.Id,
			Name:              app.Name,
			SenderAddresses:   app.SenderAddresses,
			RecipientAddress:  app.RecipientAddress,
			BlockchainVersion: app.BlockchainVersion,
			JWTPublicKey:      app.JWTPublicKey,
		})
		if err != nil {
			zap.L().Fatal("Failed to insert app", zap.String("app_id", app.Id), zap.Error(err))
		}
		fmt.Printf("app    %s (%s)\n", app.Id, app.Name)
	}

	for _, user := range fixtures.Users {
		err := dbService.InsertUser(ctx, &models.User{
			Id:            user.Id,
			AppId:         user.AppId,
			AppUserId:     user.AppUserId,
			WalletAddress: user.WalletAddress,
			Activated:     user.Activated,
		})
		if err != nil {
			zap.L().Fatal("Failed to insert user", zap.String("user_id", user.Id), zap.Error(err))
		}
		fmt.Printf("user   %s (%s)\n", user.Id, user.AppUserId)
	}

	assetCount := 0
	for _, fixture := range fixtures.Offers {
		offer := &models.Offer{
			Id:     fixture.Id,
			AppId:  fixture.AppId,
			Type:   models.OrderType(fixture.Type),
			Amount: fixture.Amount,
			Cap:    models.OfferCap{Total: fixture.CapTotal, PerUser: fixture.CapPerUser},
			Meta: models.OfferMeta{
				Title:       fixture.Title,
				Description: fixture.Description,
				Image:       fixture.Image,
				OrderMeta: models.OrderMeta{
					Title:       fixture.OrderTitle,
					Description: fixture.OrderDescription,
				},
			},
			BlockchainData: models.BlockchainData{RecipientAddress: fixture.RecipientAddress},
		}

		var content *models.OfferContent
		if fixture.ContentType != "" {
			content = &models.OfferContent{
				OfferId:     fixture.Id,
				ContentType: models.ContentType(fixture.ContentType),
				Content:     fixture.Content,
			}
		}
		if err := dbService.CreateOffer(ctx, offer, content); err != nil {
			zap.L().Fatal("Failed to insert offer", zap.String("offer_id", fixture.Id), zap.Error(err))
		}
		fmt.Printf("offer  %s (%s, amount %d)\n", fixture.Id, fixture.Type, fixture.Amount)

		for _, coupon := range fixture.Coupons {
			asset := &models.Asset{
				Id:         uuid.NewString(),
				OfferId:    fixture.Id,
				CouponCode: coupon,
			}
			if err := dbService.Insert(ctx, asset); err != nil {
				zap.L().Fatal("Failed to insert asset", zap.String("offer_id", fixture.Id), zap.Error(err))
			}
			assetCount++
		}
	}

	common.PrintFooter(fmt.Sprintf("Seeded %d apps, %d users, %d offers, %d assets",
		len(fixtures.Apps), len(fixtures.Users), len(fixtures.Offers), assetCount), common.DefaultWidth)
}
