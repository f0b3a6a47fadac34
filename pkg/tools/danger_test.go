package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDangerousCommand(t *testing.T) {
	tests := []struct {
		command string
		want    bool
	}{
		{"", false},
		{"df -h", false},
		{"ls -la /var/log", false},
		{"rm -rf /var/log", true},
		{"echo rm -rf /", true}, // substring-based on purpose
		{"RM -RF /tmp/x", true},
		{"rm -fr /opt/app", true},
		{"dd if=/dev/zero of=/dev/sda", true},
		{"mkfs.ext4 /dev/sdb1", true},
		{"fdisk /dev/sda", true},
		{"echo x > /dev/sda", true},
		{"shutdown -h now", true},
		{"sudo reboot", true},
		{"poweroff", true},
		{"chmod 777 /etc", true},
		{"chmod 755 /opt/app", false},
		{"chown -R www-data /var/www", false},
		{"chown -R root /", true},
		{":(){ :|:& };:", true},
		{"echo nameserver > /etc/resolv.conf", true},
		{"systemctl stop sshd", true},
		{"systemctl restart nginx", false},
		{"service networking stop", true},
		{"systemctl disable ssh", true},
		{"ufw disable", true},
		{"iptables -F", true},
		{"DROP TABLE users", true},
		{"drop table users;", true},
		{"TRUNCATE sessions", true},
		{"DELETE FROM users;", true},
		{"DELETE FROM users WHERE id = 3;", false},
		{"userdel alice", true},
		{"passwd root", true},
		{"passwd alice", false},
		{"find /tmp -name '*.log' -delete", false}, // known false negative
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDangerousCommand(tt.command), tt.command)
		})
	}
}

func TestDangerReason(t *testing.T) {
	assert.Empty(t, DangerReason("uptime"))
	assert.NotEmpty(t, DangerReason("rm -rf /"))
	assert.Empty(t, DangerReason(""))
}
