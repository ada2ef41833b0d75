package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

// TestCommandCreation verifies that commands can be created with the builder pattern
func TestCommandCreation(t *testing.T) {
	handler := func(ctx *CommandContext) error {
		return nil
	}

	cmd := NewCommand("infractions", "Lista infracciones", "mod", handler)
	if cmd == nil {
		t.Fatal("NewCommand returned nil")
	}
	if cmd.Name != "infractions" {
		t.Errorf("Name = %v, want %v", cmd.Name, "infractions")
	}
	if cmd.Category != "mod" {
		t.Errorf("Category = %v, want %v", cmd.Category, "mod")
	}
	if cmd.Run == nil {
		t.Error("Run function is nil")
	}
}

// TestToApplicationCommand verifies conversion to Discord application command
func TestToApplicationCommand(t *testing.T) {
	option := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "users",
		Description: "IDs o menciones",
		Required:    true,
	}

	cmd := NewCommand("infractions", "Lista infracciones", "mod", func(*CommandContext) error { return nil }).
		WithOptions(option).
		WithUserPermissions(discordgo.PermissionModerateMembers)

	appCmd := cmd.ToApplicationCommand()
	if appCmd.Name != "infractions" {
		t.Errorf("ApplicationCommand Name = %v, want %v", appCmd.Name, "infractions")
	}
	if len(appCmd.Options) != 1 {
		t.Fatalf("ApplicationCommand Options length = %v, want %v", len(appCmd.Options), 1)
	}
	if appCmd.DefaultMemberPermissions == nil || *appCmd.DefaultMemberPermissions != discordgo.PermissionModerateMembers {
		t.Errorf("DefaultMemberPermissions = %v, want %v", appCmd.DefaultMemberPermissions, discordgo.PermissionModerateMembers)
	}

	plain := NewCommand("ping", "Ping", "util", nil).ToApplicationCommand()
	if plain.DefaultMemberPermissions != nil {
		t.Error("DefaultMemberPermissions should be nil without user permissions")
	}
}

func TestCommandAsDev(t *testing.T) {
	cmd := NewCommand("test", "Test command", "test", nil).AsDev()
	if !cmd.IsDev {
		t.Error("IsDev should be true after calling AsDev()")
	}
}

func TestHasPermissions(t *testing.T) {
	tests := []struct {
		name   string
		member *discordgo.Member
		need   int64
		want   bool
	}{
		{"none needed", nil, 0, true},
		{"no member", nil, discordgo.PermissionModerateMembers, false},
		{"has it", &discordgo.Member{Permissions: discordgo.PermissionModerateMembers | discordgo.PermissionSendMessages}, discordgo.PermissionModerateMembers, true},
		{"lacks it", &discordgo.Member{Permissions: discordgo.PermissionSendMessages}, discordgo.PermissionModerateMembers, false},
		{"admin", &discordgo.Member{Permissions: discordgo.PermissionAdministrator}, discordgo.PermissionBanMembers, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := &CommandContext{Interaction: &discordgo.InteractionCreate{
				Interaction: &discordgo.Interaction{Member: tt.member},
			}}
			if got := ctx.HasPermissions(tt.need); got != tt.want {
				t.Errorf("HasPermissions() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCommandName(t *testing.T) {
	sub := discordgo.ApplicationCommandInteractionData{
		Name: "modlogs",
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{Name: "scan", Type: discordgo.ApplicationCommandOptionSubCommand},
		},
	}
	if got := commandName(sub); got != "modlogs.scan" {
		t.Errorf("commandName() = %v, want %v", got, "modlogs.scan")
	}

	flat := discordgo.ApplicationCommandInteractionData{
		Name: "infractions",
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{Name: "users", Type: discordgo.ApplicationCommandOptionString},
		},
	}
	if got := commandName(flat); got != "infractions" {
		t.Errorf("commandName() = %v, want %v", got, "infractions")
	}
}
