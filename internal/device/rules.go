package device

import "fmt"

// modprobeConf prevents the kernel from loading USB mass storage drivers.
// install directives beat blacklist alone because blacklist only stops
// automatic loading, not an explicit modprobe.
const modprobeConf = `# Managed by cordon. Removable storage lockout.
install usb-storage /bin/false
install uas /bin/false
blacklist usb-storage
blacklist uas
`

// udevConf deauthorizes USB mass storage interfaces as they appear and
// hides any block devices that slip through from udisks.
const udevConf = `# Managed by cordon. Blocks USB mass storage devices.
ACTION=="add", SUBSYSTEM=="usb", ATTR{bInterfaceClass}=="08", ATTR{authorized}="0"
SUBSYSTEM=="block", SUBSYSTEMS=="usb", ENV{UDISKS_IGNORE}="1"
`

// polkitRule denies all udisks2 actions for one user. Other accounts on the
// machine keep their normal mount permissions.
func polkitRule(username string) string {
	return fmt.Sprintf(`// Managed by cordon. Denies removable storage actions for %s.
polkit.addRule(function(action, subject) {
    if (subject.user == %q &&
        action.id.indexOf("org.freedesktop.udisks2.") == 0) {
        return polkit.Result.NO;
    }
});
`, username, username)
}
