package app

import (
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{name: "引数なしはserve", args: []string{}, want: CommandServe},
		{name: "serve", args: []string{"serve"}, want: CommandServe},
		{name: "worker", args: []string{"worker"}, want: CommandWorker},
		{name: "migrate", args: []string{"migrate"}, want: CommandMigrate},
		{name: "migrate down", args: []string{"migrate", "down", "2"}, want: CommandMigrate},
		{name: "upgrade", args: []string{"upgrade"}, want: CommandUpgrade},
		{name: "healthcheck", args: []string{"healthcheck"}, want: CommandHealthcheck},
		{name: "不明なコマンドはserve", args: []string{"unknown"}, want: CommandServe},
		{name: "余分な引数は無視", args: []string{"worker", "--flag", "value"}, want: CommandWorker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCommand(tt.args); got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestRollbackSteps(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    int
		wantErr bool
	}{
		{name: "適用方向", args: []string{"migrate"}, want: 0},
		{name: "up指定も適用方向", args: []string{"migrate", "up"}, want: 0},
		{name: "down省略時は1段", args: []string{"migrate", "down"}, want: 1},
		{name: "down 3", args: []string{"migrate", "down", "3"}, want: 3},
		{name: "0段は不正", args: []string{"migrate", "down", "0"}, wantErr: true},
		{name: "数値以外は不正", args: []string{"migrate", "down", "all"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rollbackSteps(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("rollbackSteps(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("rollbackSteps(%v) = %d, want %d", tt.args, got, tt.want)
			}
		})
	}
}
