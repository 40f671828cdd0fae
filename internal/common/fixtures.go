package common

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// Fixture shapes for the seed tool. One YAML file describes apps, users and
// offers; spend offers may ship coupon codes that become unowned assets.

type AppFixture struct {
	Id                string   `yaml:"id"`
	Name              string   `yaml:"name"`
	SenderAddresses   []string `yaml:"sender_addresses"`
	RecipientAddress  string   `yaml:"recipient_address"`
	BlockchainVersion string   `yaml:"blockchain_version"`
	JWTPublicKey      string   `yaml:"jwt_public_key"`
}

type UserFixture struct {
	Id            string `yaml:"id"`
	AppId         string `yaml:"app_id"`
	AppUserId     string `yaml:"app_user_id"`
	WalletAddress string `yaml:"wallet_address"`
	Activated     bool   `yaml:"activated"`
}

type OfferFixture struct {
	Id               string   `yaml:"id"`
	AppId            string   `yaml:"app_id"`
	Type             string   `yaml:"type"`
	Amount           int64    `yaml:"amount"`
	CapTotal         int      `yaml:"cap_total"`
	CapPerUser       int      `yaml:"cap_per_user"`
	Title            string   `yaml:"title"`
	Description      string   `yaml:"description"`
	Image            string   `yaml:"image"`
	OrderTitle       string   `yaml:"order_title"`
	OrderDescription string   `yaml:"order_description"`
	RecipientAddress string   `yaml:"recipient_address"`
	ContentType      string   `yaml:"content_type"`
	Content          string   `yaml:"content"`
	Coupons          []string `yaml:"coupons"`
}

type FixturesConfig struct {
	Apps   []AppFixture   `yaml:"apps"`
	Users  []UserFixture  `yaml:"users"`
	Offers []OfferFixture `yaml:"offers"`
}

func LoadFixtures(fixturesFile string) (*FixturesConfig, error) {
	var fixturesPath string
	if filepath.IsAbs(fixturesFile) {
		fixturesPath = fixturesFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		fixturesPath = filepath.Join(wd, fixturesFile)
	}

	data, err := os.ReadFile(fixturesPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", fixturesFile, err)
	}

	var config FixturesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", fixturesFile, err)
	}

	for i, app := range config.Apps {
		if app.Id == "" {
			return nil, fmt.Errorf("app at index %d missing id", i)
		}
		if len(app.SenderAddresses) == 0 {
			return nil, fmt.Errorf("app %s has no sender addresses", app.Id)
		}
	}
	for i, offer := range config.Offers {
		if offer.Id == "" {
			return nil, fmt.Errorf("offer at index %d missing id", i)
		}
		if offer.Type != "earn" && offer.Type != "spend" {
			return nil, fmt.Errorf("offer %s has invalid type %q", offer.Id, offer.Type)
		}
		if offer.Type == "spend" && offer.RecipientAddress == "" {
			return nil, fmt.Errorf("spend offer %s missing recipient address", offer.Id)
		}
	}
	return &config, nil
}
